package handler

import (
	"calcchat/backend/internal/chathub"
	"calcchat/backend/internal/conversation"
	"calcchat/backend/internal/media"
	"calcchat/backend/internal/models"
	"calcchat/backend/internal/storage"
	"calcchat/backend/internal/vault"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

func abortWith(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// ListMessages reloads the history and returns the rendered list.
func (h *Handler) ListMessages(c *gin.Context) {
	s := h.session(c)
	if err := s.Stream.Load(c.Request.Context()); err != nil {
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": s.Stream.Messages()})
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	msg, err := h.session(c).Stream.SendText(c.Request.Context(), req.Content)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		abortWith(c, http.StatusBadRequest, err)
		return
	case err != nil:
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) ClearHistory(c *gin.Context) {
	if err := h.session(c).Stream.ClearHistory(c.Request.Context()); err != nil {
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadMedia accepts a multipart "file" for the image, video and voice kinds.
func (h *Handler) UploadMedia(c *gin.Context) {
	kind, err := media.ParseKind(c.Param("kind"))
	if err != nil || kind == media.KindProfile {
		abortWith(c, http.StatusBadRequest, errors.Wrap(media.ErrUnknownKind, c.Param("kind")))
		return
	}
	h.upload(c, kind)
}

func (h *Handler) UploadProfilePicture(c *gin.Context) {
	h.upload(c, media.KindProfile)
}

func (h *Handler) upload(c *gin.Context, kind media.Kind) {
	fh, err := c.FormFile("file")
	if err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}

	msg, err := h.session(c).Media.Submit(c.Request.Context(), kind, media.Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	var stageErr *media.Error
	switch {
	case errors.Is(err, media.ErrTooLarge):
		abortWith(c, http.StatusRequestEntityTooLarge, err)
		return
	case errors.As(err, &stageErr):
		abortWith(c, http.StatusBadGateway, err)
		return
	case err != nil:
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Profiles returns the current profile picture URL of each identity.
func (h *Handler) Profiles(c *gin.Context) {
	s := h.session(c)
	if !s.Running() {
		if err := s.Stream.Load(c.Request.Context()); err != nil {
			abortWith(c, http.StatusBadGateway, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": s.Stream.Profiles().Snapshot()})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) ChangeCalculatorPassword(c *gin.Context) {
	h.changeCode(c, (*conversation.Stream).ChangeCalculatorPassword)
}

func (h *Handler) ChangeUserAPassword(c *gin.Context) {
	h.changeCode(c, (*conversation.Stream).ChangeUserAPassword)
}

func (h *Handler) changeCode(c *gin.Context, change func(*conversation.Stream, context.Context, string) error) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	err := change(h.session(c).Stream, c.Request.Context(), req.Code)
	switch {
	case errors.Is(err, conversation.ErrForbidden):
		abortWith(c, http.StatusForbidden, err)
		return
	case errors.Is(err, vault.ErrEmptyCode):
		abortWith(c, http.StatusBadRequest, err)
		return
	case err != nil:
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.session(c).Reconciler.View())
}

// RefreshPresence runs the status check right away.
func (h *Handler) RefreshPresence(c *gin.Context) {
	s := h.session(c)
	if err := s.Reconciler.Refresh(c.Request.Context()); err != nil {
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, s.Reconciler.View())
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

func (h *Handler) SetVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	h.session(c).Reconciler.SetVisible(c.Request.Context(), *req.Visible)
	c.Status(http.StatusNoContent)
}

type activityRequest struct {
	Type   models.ActivityType `json:"type"`
	Status bool                `json:"status"`
}

func (h *Handler) SendActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, err)
		return
	}
	err := h.session(c).SendActivity(req.Type, req.Status)
	switch {
	case errors.Is(err, chathub.ErrUnknownActivity):
		abortWith(c, http.StatusBadRequest, err)
		return
	case err != nil:
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ServeObject streams a stored media object; the URLs in message rows point here.
func (h *Handler) ServeObject(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	obj, err := h.Objects.GetObject(c.Request.Context(), c.Param("bucket"), name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		abortWith(c, http.StatusNotFound, err)
		return
	case err != nil:
		abortWith(c, http.StatusBadGateway, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}
