package http

import (
	"net/http"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
	"paintwithchat/internal/infrastructure/middleware"
	"paintwithchat/pkg/errors"
	"paintwithchat/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SessionHandler serves the streamer's session controls. Every route acts
// on the caller's own active session.
type SessionHandler struct {
	sessions ports.SessionService
	verifier ports.CredentialVerifier
}

func NewSessionHandler(sessions ports.SessionService, verifier ports.CredentialVerifier) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		verifier: verifier,
	}
}

func (h *SessionHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/session", middleware.AuthMiddleware(h.verifier))
	{
		api.POST("/start", h.Start)
		api.GET("/current", h.Current)
		api.POST("/select-user", h.SelectUser)
		api.POST("/next-user", h.NextUser)
		api.POST("/end", h.End)
	}
}

type SelectUserRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), *identity)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *SessionHandler) Current(c *gin.Context) {
	h.respond(c, func(streamer domain.UserID) (*domain.Session, error) {
		return h.sessions.Current(c.Request.Context(), streamer)
	})
}

func (h *SessionHandler) SelectUser(c *gin.Context) {
	var req SelectUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("userId is required"))
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	h.respond(c, func(streamer domain.UserID) (*domain.Session, error) {
		return h.sessions.SelectUser(c.Request.Context(), streamer, domain.UserID(req.UserID))
	})
}

func (h *SessionHandler) NextUser(c *gin.Context) {
	h.respond(c, func(streamer domain.UserID) (*domain.Session, error) {
		return h.sessions.NextUser(c.Request.Context(), streamer)
	})
}

func (h *SessionHandler) End(c *gin.Context) {
	h.respond(c, func(streamer domain.UserID) (*domain.Session, error) {
		return h.sessions.End(c.Request.Context(), streamer)
	})
}

func (h *SessionHandler) respond(c *gin.Context, fn func(streamer domain.UserID) (*domain.Session, error)) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	session, err := fn(identity.UserID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}
