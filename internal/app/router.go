package app

import (
	"time"

	"adaptive_quiz_backend/docs"
	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/middleware"
	"adaptive_quiz_backend/pkg/monitoring"
	"adaptive_quiz_backend/pkg/security"
	"adaptive_quiz_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.HealthCheck)

	// 学生接口，需登录
	api := router.Group("/api")
	api.Use(
		middleware.AuthMiddleware(cfg),
		middleware.StudentMiddleware(repos.student),
		middleware.ActivityMiddleware(repos.student),
	)
	{
		api.POST("/lectures/:id/sync", c.sync.Sync)
		api.GET("/lectures/:id/questions", c.sync.GetQuestions)
		api.GET("/lectures/:id/answers", c.sync.GetAnswers)

		api.GET("/quiz/:publicId/review", c.review.PickAssignment)
		api.GET("/crowd-questions/:publicId", c.review.GetQuestion)

		api.GET("/awards", c.award.GetAwards)
		api.POST("/awards/claim", c.award.ClaimAwards)
		api.PUT("/wallet", c.award.UpdateWallet)
	}

	// 管理接口
	admin := router.Group("/api/admin")
	admin.Use(middleware.AdminMiddleware(cfg))
	{
		admin.POST("/lectures/:id/settings", c.setting.PublishSettings)
		admin.GET("/lectures/:id/settings", c.setting.GetSettings)
	}
}
