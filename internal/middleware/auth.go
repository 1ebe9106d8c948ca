package middleware

import (
	"strings"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware validates the session token the hosting application
// issues and stores the parsed principal on the request context.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("token rejected", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("principal", claims)
		c.Next()
	}
}

// StudentMiddleware resolves the principal into a student row,
// creating it lazily on first contact. Identity is (host, username);
// the email rides along and may change between sessions.
func StudentMiddleware(repo *repository.StudentRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := util.GetClaimsFromContext(c)
		if claims == nil || claims.Host == "" || claims.Username == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		student, err := repo.FindOrCreate(claims.Host, claims.Username, claims.Email)
		if err != nil {
			util.HandleError(c, err)
			c.Abort()
			return
		}

		c.Set("student", student)
		c.Next()
	}
}

// GetStudent returns the resolved student, or nil outside an
// authenticated route.
func GetStudent(c *gin.Context) *model.Student {
	v, exists := c.Get("student")
	if !exists {
		return nil
	}
	student, ok := v.(*model.Student)
	if !ok {
		return nil
	}
	return student
}

func ActivityMiddleware(repo *repository.StudentRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if student := GetStudent(c); student != nil {
			// 异步更新，不阻塞主流程
			go repo.UpdateLastSeen(student.ID)
		}
		c.Next()
	}
}
