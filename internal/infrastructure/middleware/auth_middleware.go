package middleware

import (
	"net/http"
	"strings"

	"paintwithchat/internal/core/domain"
	"paintwithchat/internal/core/ports"
	"paintwithchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// AuthMiddleware requires a bearer token and stores the verified identity
// on the gin context.
func AuthMiddleware(verifier ports.CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.ErrInvalidCredential.Error()})
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuthMiddleware stores the identity when a valid bearer token is
// present and lets every request through.
func OptionalAuthMiddleware(verifier ports.CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if identity, err := verifier.Verify(token); err == nil {
				setIdentity(c, identity)
			}
		}
		c.Next()
	}
}

// IdentityFrom returns the identity stored by the auth middleware.
func IdentityFrom(c *gin.Context) (*domain.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*domain.Identity)
	return identity, ok
}

func setIdentity(c *gin.Context, identity *domain.Identity) {
	c.Set(identityKey, identity)
	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(identity.UserID)))
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
