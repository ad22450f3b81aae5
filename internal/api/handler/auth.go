package handler

import (
	"calcchat/backend/internal/config"
	"calcchat/backend/internal/gate"
	"calcchat/backend/internal/models"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const identityKey = "identity"

// TokenIssuer підписує та перевіряє сесійні токени (HS256).
type TokenIssuer struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{
		Secret: []byte(secret),
		TTL:    config.TokenTTL,
		Issuer: config.TokenIssuer,
		Now:    time.Now,
	}
}

type sessionClaims struct {
	Identity models.Identity `json:"identity"`
	jwt.RegisteredClaims
}

// Generate генерує JWT з ідентичністю чату
func (t *TokenIssuer) Generate(id models.Identity) (string, error) {
	now := t.Now()
	claims := sessionClaims{
		Identity: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.Secret)
}

// Parse validates the token and returns the identity it carries.
func (t *TokenIssuer) Parse(raw string) (models.Identity, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (interface{}, error) { return t.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.Issuer),
		jwt.WithTimeFunc(t.Now),
	)
	if err != nil {
		return "", err
	}
	if !claims.Identity.Valid() {
		return "", errors.Errorf("token carries unknown identity %q", claims.Identity)
	}
	return claims.Identity, nil
}

// RequireIdentity accepts "Authorization: Bearer <token>" or "?token=<token>"
// (browsers cannot set headers on a WebSocket upgrade).
func (h *Handler) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}

		id, err := h.Tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) models.Identity {
	return c.MustGet(identityKey).(models.Identity)
}

type unlockRequest struct {
	Keys []string `json:"keys" binding:"required"`
}

// Unlock replays the calculator keys and reports whether the result opens the gate.
func (h *Handler) Unlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	display, unlocked, err := h.Gate.Unlock(c.Request.Context(), req.Keys)
	if errors.Is(err, gate.ErrUnknownKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked, "display": display})
}

type identityRequest struct {
	Identity string `json:"identity" binding:"required"`
	Code     string `json:"code"`
}

// SelectIdentity перевіряє код (для A) та повертає JWT
func (h *Handler) SelectIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.Gate.SelectIdentity(c.Request.Context(), req.Identity, req.Code)
	switch {
	case errors.Is(err, gate.ErrWrongCode):
		c.JSON(http.StatusForbidden, gin.H{"error": "Wrong password!"})
		return
	case err != nil && !models.Identity(req.Identity).Valid():
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	token, err := h.Tokens.Generate(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "identity": id})
}
