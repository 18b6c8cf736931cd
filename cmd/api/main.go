package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/damoang/angple-contrib/internal/config"
	"github.com/damoang/angple-contrib/internal/contrib"
	"github.com/damoang/angple-contrib/internal/database"
	"github.com/damoang/angple-contrib/internal/event"
	"github.com/damoang/angple-contrib/internal/handler"
	"github.com/damoang/angple-contrib/internal/middleware"
	"github.com/damoang/angple-contrib/internal/migration"
	"github.com/damoang/angple-contrib/internal/repository"
	"github.com/damoang/angple-contrib/internal/routes"
	"github.com/damoang/angple-contrib/internal/service"
	"github.com/damoang/angple-contrib/internal/ws"
	pkgcache "github.com/damoang/angple-contrib/pkg/cache"
	"github.com/damoang/angple-contrib/pkg/jwt"
	pkglogger "github.com/damoang/angple-contrib/pkg/logger"
	pkgredis "github.com/damoang/angple-contrib/pkg/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// @title           Angple Contribution API
// @version         1.0
// @description     Community contributions and moderation review for media records
//
// @license.name    MIT
//
// @host            localhost:8080
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Authorization header using the Bearer scheme. Example: "Bearer {token}"

func main() {
	dotenvFiles := config.LoadDotEnv()
	env := config.Env()

	// 설정 로드
	configPath := config.Path(env)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", configPath, err)
	}

	// 로거 초기화
	pkglogger.InitStructured(env, cfg.Log.Level)
	pkglogger.Info("APP_ENV=%s, loaded env files: %v, config: %s", env, dotenvFiles, configPath)
	config.LogResolved(cfg)

	// DB 연결
	gormLevel := gormlogger.Warn
	if cfg.IsDevelopment() {
		gormLevel = gormlogger.Info
	}
	db, err := database.Open(cfg.Database, gormLevel)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	pkglogger.Info("Connected to %s", cfg.Database.Driver)
	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if cfg.IsDevelopment() {
		if err := migration.SeedSample(db); err != nil {
			pkglogger.Warn("Sample seed warning: %v", err)
		}
	}

	// Redis 연결 (optional)
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err = pkgredis.NewClient(ctx, pkgredis.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		cancel()
		if err != nil {
			pkglogger.Warn("Failed to connect to Redis: %v (continuing without Redis)", err)
			redisClient = nil
		} else {
			pkglogger.Info("Connected to Redis")
		}
	}
	cacheService := pkgcache.NewService(redisClient)

	// Event bus + subscribers
	bus := event.NewBus()
	service.RegisterAuditSubscriber(bus, repository.NewAuditRepository(db))
	service.RegisterCacheSubscriber(bus, cacheService)
	service.RegisterMetricsSubscriber(bus)

	// 실시간 피드
	hub := ws.NewHub(redisClient)
	go hub.Run()
	service.RegisterFeedSubscriber(bus, hub)

	// Contribution service
	contributionService := service.NewContributionService(
		repository.NewContributionRepository(db),
		repository.NewEntityRepository(db),
		contrib.DefaultRegistry(),
		bus,
	)
	contributionService.SetCache(cacheService)
	contributionHandler := handler.NewContributionHandler(contributionService)
	feedHandler := handler.NewFeedHandler(hub, cfg.CORS.Origins(), cfg.Contribution.ReviewerLevel)

	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTTL())

	// Gin 라우터 생성
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS 설정
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.Origins(),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:           12 * time.Hour,
	}))

	// Middleware
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.InputSanitizer())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())
	if redisClient != nil && !cfg.IsDevelopment() {
		router.Use(middleware.RateLimit(redisClient, middleware.DefaultRateLimitConfig()))
	}

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health Check
	router.GET("/health", healthHandler(db, cacheService))

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.Setup(router, contributionHandler, feedHandler, jwtManager, redisClient, cfg)

	go reportDBStats(db)

	// 서버 시작
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		pkglogger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	pkglogger.Info("Shutting down server...")
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		pkglogger.Error("Server forced to shutdown: %v", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func healthHandler(db *gorm.DB, cacheService pkgcache.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbStatus := "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "down"
			status = http.StatusServiceUnavailable
		}

		redisStatus := "disabled"
		if cacheService.IsAvailable() {
			redisStatus = "ok"
			if err := cacheService.Ping(ctx); err != nil {
				redisStatus = "degraded"
			}
		}

		c.JSON(status, gin.H{
			"status":   dbStatus,
			"service":  "angple-contrib",
			"database": dbStatus,
			"redis":    redisStatus,
			"time":     time.Now().Unix(),
		})
	}
}

func reportDBStats(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		middleware.RecordDBStats(sqlDB.Stats())
	}
}
