package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reveal_backend/internal/config"
	"reveal_backend/internal/controller"
	"reveal_backend/internal/repository"
	"reveal_backend/internal/service"
	"reveal_backend/internal/util"
	"reveal_backend/pkg/configwatcher"
	"reveal_backend/pkg/database"
	"reveal_backend/pkg/logger"
	"reveal_backend/pkg/monitoring"
	"reveal_backend/pkg/security"
	"reveal_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config         *config.Config
	Router         *gin.Engine
	DB             *gorm.DB
	Redis          *redis.Client
	services       *services
	sweeperStop    chan struct{}
	tracerProvider *sdktrace.TracerProvider
}

type repositories struct {
	user    *repository.UserRepository
	reveal  *repository.RevealRepository
	attempt *repository.AttemptRepository
}

type services struct {
	auth      *service.AuthService
	user      *service.UserService
	storage   *service.StorageService
	reveal    *service.RevealService
	challenge *service.ChallengeService
	hub       *service.RevealHub
}

type controllers struct {
	auth    *controller.AuthController
	reveal  *controller.RevealController
	session *controller.SessionController
	upload  *controller.UploadController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:    repository.NewUserRepository(db),
		reveal:  repository.NewRevealRepository(db),
		attempt: repository.NewAttemptRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.user = service.NewUserService(repos.user)

	s.hub = service.NewRevealHub(rdb)
	go s.hub.Run()

	s.reveal = service.NewRevealService(repos.reveal, repos.attempt, s.storage, s.hub, cfg)
	s.challenge = service.NewChallengeService(repos.reveal, repos.attempt, s.reveal, s.hub, cfg)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth, s.user),
		reveal:  controller.NewRevealController(s.reveal),
		session: controller.NewSessionController(s.reveal, s.challenge, s.hub),
		upload:  controller.NewUploadController(s.storage, a.Config),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 兜底扫描：revealed 超窗而客户端失联的记录统一过期
func (a *App) startBackgroundTasks(s *services) {
	interval := time.Duration(a.Config.Reveal.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	a.sweeperStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.reveal.SweepOverdue(time.Now()); err != nil {
					logger.Log.Error("overdue sweep error", zap.Error(err))
				}
			case <-a.sweeperStop:
				return
			}
		}
	}()
}

// shouldAutoMigrate release 模式下迁移只在显式传 -migrate 时执行
func shouldAutoMigrate(cfg *config.Config) bool {
	if cfg.ForceMigrate {
		return true
	}
	return cfg.Server.Mode != "release"
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, shouldAutoMigrate(cfg))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize redis: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("reveal-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracerProvider = tp
	}

	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	// 窗口默认值等可以不重启热更新
	go configwatcher.WatchConfig("configs/config.yaml", cfg, func(raw interface{}) {
		if newCfg, ok := raw.(*config.Config); ok {
			app.applyConfig(newCfg)
		}
	})

	return app
}

// applyConfig 热更新只覆盖运行中可安全替换的部分
func (a *App) applyConfig(newCfg *config.Config) {
	a.Config.Reveal = newCfg.Reveal
	logger.Log.Info("configuration reloaded",
		zap.Int("defaultWindowSeconds", newCfg.Reveal.DefaultWindowSeconds),
		zap.Int("sweepIntervalSeconds", newCfg.Reveal.SweepIntervalSeconds))
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
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

	// 停掉兜底扫描和 WebSocket 订阅
	if a.sweeperStop != nil {
		close(a.sweeperStop)
	}
	if a.services != nil && a.services.hub != nil {
		a.services.hub.Stop()
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
