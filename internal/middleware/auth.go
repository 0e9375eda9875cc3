package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthConfig controls bearer key validation on the OpenAI surface.
type AuthConfig struct {
	// ValidKey is the expected API key.
	ValidKey string
	// AllowAny accepts any non-empty bearer token.
	AllowAny bool
}

// BearerAuth validates the Authorization header. With AllowAny set, any
// non-empty bearer key passes; otherwise the key must match ValidKey.
func BearerAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			unauthorized(c)
			return
		}
		key := strings.TrimSpace(auth[7:])
		if key == "" {
			unauthorized(c)
			return
		}
		if !cfg.AllowAny && key != cfg.ValidKey {
			unauthorized(c)
			return
		}
		c.Set("api_key", key)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"message": "Invalid API key",
			"type":    "authentication_error",
		},
	})
}
