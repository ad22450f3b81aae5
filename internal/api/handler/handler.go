package handler

import (
	"calcchat/backend/internal/chathub"
	"calcchat/backend/internal/gate"
	"calcchat/backend/internal/models"
	"context"

	"github.com/gin-gonic/gin"
)

// ObjectReader serves stored media back to the clients.
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, name string) (*models.StoredObject, error)
}

// Handler містить посилання на ChatHub, гейт та сховище об'єктів
type Handler struct {
	Hub     *chathub.ManagerService
	Gate    *gate.Gate
	Objects ObjectReader
	Tokens  *TokenIssuer
}

func NewHandler(hub *chathub.ManagerService, g *gate.Gate, objects ObjectReader, tokens *TokenIssuer) *Handler {
	return &Handler{Hub: hub, Gate: g, Objects: objects, Tokens: tokens}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/api/unlock", h.Unlock)
	r.POST("/api/identity", h.SelectIdentity)
	r.GET("/storage/:bucket/*name", h.ServeObject)

	authed := r.Group("/", h.RequireIdentity())
	authed.GET("/ws", h.ServeWebSocket)

	api := authed.Group("/api")
	api.GET("/messages", h.ListMessages)
	api.POST("/messages", h.SendMessage)
	api.DELETE("/messages", h.ClearHistory)
	api.POST("/media/:kind", h.UploadMedia)
	api.POST("/profile-picture", h.UploadProfilePicture)
	api.GET("/profiles", h.Profiles)
	api.PUT("/passwords/calculator", h.ChangeCalculatorPassword)
	api.PUT("/passwords/user-a", h.ChangeUserAPassword)
	api.GET("/presence", h.Presence)
	api.POST("/presence/refresh", h.RefreshPresence)
	api.POST("/presence/visibility", h.SetVisibility)
	api.POST("/activity", h.SendActivity)
}

func (h *Handler) session(c *gin.Context) *chathub.Session {
	return h.Hub.Session(identityFrom(c))
}
