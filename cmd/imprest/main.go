package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/imprest/internal/config"
	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"github.com/bitfantasy/imprest/internal/imprest/handler"
	"github.com/bitfantasy/imprest/internal/imprest/repository"
	"github.com/bitfantasy/imprest/internal/imprest/service"
	"github.com/bitfantasy/imprest/internal/middleware"
	"github.com/bitfantasy/imprest/internal/notify"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting imprest service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&entity.User{},
		&entity.UserRole{},
		&entity.ImprestRequest{},
	); err != nil {
		zapLogger.Warn("AutoMigrate warning", zap.Error(err))
	}

	// 查询热点索引（AutoMigrate不建组合索引）
	migrationSQL := []string{
		"CREATE INDEX IF NOT EXISTS idx_imprest_requests_status ON imprest_requests(status)",
		"CREATE INDEX IF NOT EXISTS idx_imprest_requests_requester ON imprest_requests(requester_id)",
		"CREATE INDEX IF NOT EXISTS idx_imprest_requests_department ON imprest_requests(department)",
		"CREATE INDEX IF NOT EXISTS idx_imprest_requests_due_date ON imprest_requests(status, due_date)",
		"CREATE INDEX IF NOT EXISTS idx_user_roles_role_code ON user_roles(role_code)",
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration SQL warning (may already exist)", zap.String("sql", sql), zap.Error(err))
		}
	}
	zapLogger.Info("Database migration completed")

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化MinIO（附件与票据存储）
	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		minioClient, err = minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			zapLogger.Warn("Failed to init MinIO client, uploads disabled", zap.Error(err))
			minioClient = nil
		}
	}

	// 消息网关（未配置时通知静默丢弃）
	var gateway *notify.Gateway
	if cfg.Notify.BaseURL != "" {
		gateway = notify.NewGateway(cfg.Notify.BaseURL, cfg.Notify.APIKey, cfg.Notify.APISecret)
		zapLogger.Info("Notification gateway initialized")
	}

	// 初始化依赖
	repos := repository.NewRepositories(db)
	dispatcher := notify.NewDispatcher(gateway, repos.User, zapLogger)
	services := service.NewServices(repos, rdb, dispatcher, zapLogger)
	handlers := handler.NewHandlers(services, repos.User, minioClient, cfg.MinIO.Bucket, cfg.MinIO.PublicBaseURL)

	// 逾期扫描定时任务
	sweepInterval := cfg.Sweep.Interval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := services.Request.RunOverdueSweep(sweepCtx); err != nil {
					zapLogger.Error("Overdue sweep failed", zap.Error(err))
				}
			}
		}
	}()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")

	authorized := v1.Group("")
	authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
	{
		// 用户目录
		users := authorized.Group("/users")
		{
			users.GET("", h.User.ListUsers)
			users.GET("/me", h.User.GetMe)
		}

		// 文件上传
		authorized.POST("/upload", h.Upload.Upload)

		// 备用金申请
		imprests := authorized.Group("/imprests")
		{
			imprests.GET("", h.Request.ListRequests)
			imprests.POST("", h.Request.CreateRequest)
			imprests.GET("/export", middleware.RequireRole("accountant"), h.Request.ExportRequests)
			imprests.POST("/sweep-overdue", middleware.RequireRole("admin"), h.Request.SweepOverdue)
			imprests.GET("/:id", h.Request.GetRequest)

			// 生命周期操作，角色校验在领域层完成
			imprests.POST("/:id/approve-hod", h.Request.ApproveByHod)
			imprests.POST("/:id/approve-accountant", h.Request.ApproveByAccountant)
			imprests.POST("/:id/reject", h.Request.RejectRequest)
			imprests.POST("/:id/request-revision", h.Request.RequestRevision)
			imprests.POST("/:id/resubmit", h.Request.Resubmit)
			imprests.POST("/:id/disburse", h.Request.Disburse)
			imprests.POST("/:id/acknowledge", h.Request.Acknowledge)
			imprests.POST("/:id/resolve-dispute", h.Request.ResolveDispute)
			imprests.POST("/:id/accounting", h.Request.SubmitAccounting)
			imprests.POST("/:id/accounting/request-revision", h.Request.RequestAccountingRevision)
			imprests.POST("/:id/accounting/approve", h.Request.ApproveAccounting)
		}
	}
}
