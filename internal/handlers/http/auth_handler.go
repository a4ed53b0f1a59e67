package http

import (
	"net/http"
	"strings"
	"time"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
	"paintwithchat/internal/core/services"
	"paintwithchat/internal/infrastructure/middleware"
	"paintwithchat/pkg/errors"
	"paintwithchat/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuthHandler struct {
	authService services.AuthService
	users       ports.UserRepository
	tokenTTL    time.Duration
	devLogin    bool
}

func NewAuthHandler(authService services.AuthService, users ports.UserRepository, tokenTTL time.Duration, devLogin bool) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		users:       users,
		tokenTTL:    tokenTTL,
		devLogin:    devLogin,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		if h.devLogin {
			api.POST("/login", h.Login)
		}
		api.GET("/me", middleware.AuthMiddleware(h.authService), h.Me)
	}
}

type LoginRequest struct {
	Username    string `json:"username" binding:"required,max=50"`
	DisplayName string `json:"displayName" binding:"max=100"`
	Avatar      string `json:"avatar" binding:"max=2048"`
}

// Login records the user and issues an access token for it.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateStringLength(req.Username, 3, 50, "username"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.Avatar != "" {
		if err := validation.ValidateURL(req.Avatar); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	user := &domain.User{
		ID:          domain.UserID(uuid.New().String()),
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
		CreatedAt:   time.Now(),
	}
	if err := h.users.Upsert(c.Request.Context(), user); err != nil {
		c.Error(err)
		return
	}

	accessToken, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":         user,
		"access_token": accessToken,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}

// Me returns the caller's user record, or the bare identity when no record
// exists.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), identity.UserID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUserNotFound):
		user = &domain.User{ID: identity.UserID, Username: identity.Username, DisplayName: identity.Username}
	default:
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
