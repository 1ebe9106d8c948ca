package app

import (
	"context"
	"log"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/controller"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/service"
	"adaptive_quiz_backend/pkg/database"
	"adaptive_quiz_backend/pkg/logger"
	"adaptive_quiz_backend/pkg/monitoring"
	"adaptive_quiz_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	configCallbacks []func(*config.Config)
}

type repositories struct {
	student       *repository.StudentRepository
	lecture       *repository.LectureRepository
	question      *repository.QuestionRepository
	allocation    *repository.AllocationRepository
	answer        *repository.AnswerRepository
	coinAward     *repository.CoinAwardRepository
	setting       *repository.SettingRepository
	userGenerated *repository.UserGeneratedRepository
}

type services struct {
	settings   *service.SettingsService
	allocation *service.AllocationService
	content    *service.ContentService
	ledger     *service.LedgerService
	reward     *service.RewardService
	lifecycle  *service.LifecycleService
	answer     *service.AnswerService
	sync       *service.SyncService
}

type controllers struct {
	sync    *controller.SyncController
	review  *controller.ReviewController
	award   *controller.AwardController
	setting *controller.SettingController
	health  *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		student:       repository.NewStudentRepository(db),
		lecture:       repository.NewLectureRepository(db),
		question:      repository.NewQuestionRepository(db),
		allocation:    repository.NewAllocationRepository(db),
		answer:        repository.NewAnswerRepository(db),
		coinAward:     repository.NewCoinAwardRepository(db),
		setting:       repository.NewSettingRepository(db),
		userGenerated: repository.NewUserGeneratedRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	rng := mrand.New(mrand.NewSource(time.Now().UnixNano()))

	s.settings = service.NewSettingsService(repos.setting, repos.lecture, db, rng)
	s.content = service.NewContentService(cfg.Content, rdb)
	s.ledger = service.NewLedgerService(cfg.Ledger)
	s.allocation = service.NewAllocationService(repos.allocation, repos.question, repos.lecture, repos.answer, db, cfg.Engine, rng)
	s.reward = service.NewRewardService(repos.coinAward, repos.answer, repos.lecture, repos.userGenerated, s.ledger, db)
	s.lifecycle = service.NewLifecycleService(repos.userGenerated, repos.student, s.reward, db, rng)
	s.answer = service.NewAnswerService(repos.allocation, repos.answer, repos.question, repos.userGenerated, s.reward, s.lifecycle, s.content, db, cfg.Engine)
	s.sync = service.NewSyncService(s.settings, s.answer, s.allocation, repos.lecture, db, rdb, cfg.Engine)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB) *controllers {
	return &controllers{
		sync:    controller.NewSyncController(s.sync, s.answer, s.allocation, s.settings),
		review:  controller.NewReviewController(s.lifecycle, s.settings, repos.allocation, repos.question, repos.lecture, repos.userGenerated, db),
		award:   controller.NewAwardController(s.reward, repos.student),
		setting: controller.NewSettingController(s.settings),
		health:  controller.NewHealthController(db),
	}
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	controllers := app.initControllers(services, repos, db)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("quiz-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
			}
		}()
	}

	app.registerRoutes(router, controllers, repos, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

// ReloadConfig swaps the live configuration and notifies registered
// callbacks. Connection settings are not re-dialed; only values read
// per-request pick up the change.
func (a *App) ReloadConfig(cfg *config.Config) {
	a.Config = cfg
	for _, callback := range a.configCallbacks {
		callback(cfg)
	}
	logger.Log.Info("configuration reloaded")
}
