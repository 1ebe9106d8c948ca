package middleware

import (
	"crypto/subtle"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware gates the operator surface behind a shared token.
// With no token configured the admin routes are dead on arrival.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := cfg.Server.AdminToken
		given := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(given)) != 1 {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
