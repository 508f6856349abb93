package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"fieldflow/internal/config"
	"fieldflow/internal/handlers"
	"fieldflow/internal/middleware"
	"fieldflow/internal/models"
	"fieldflow/internal/observability"
	"fieldflow/internal/services"
	"fieldflow/pkg/mailgun"
	"fieldflow/pkg/telnyx"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	// 允许通过 flags/env 覆盖数据库连接（保持与 migrate 一致的接口）
	var (
		flagDSN   string
		dbHost    string
		dbPortStr string
		dbUser    string
		dbPass    string
		dbName    string
		dbSSLMode string
		dbTZ      string
		srvHost   string
		srvPort   int
	)
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagSet.StringVar(&flagDSN, "dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides other DB flags")
	flagSet.StringVar(&dbHost, "db-host", getenvDefault("DB_HOST", cfg.Database.Host), "database host")
	flagSet.StringVar(&dbPortStr, "db-port", getenvDefault("DB_PORT", fmt.Sprintf("%d", cfg.Database.Port)), "database port")
	flagSet.StringVar(&dbUser, "db-user", getenvDefault("DB_USER", cfg.Database.User), "database user")
	flagSet.StringVar(&dbPass, "db-pass", getenvDefault("DB_PASSWORD", cfg.Database.Password), "database password")
	flagSet.StringVar(&dbName, "db-name", getenvDefault("DB_NAME", cfg.Database.Name), "database name")
	flagSet.StringVar(&dbSSLMode, "db-sslmode", getenvDefault("DB_SSLMODE", "disable"), "sslmode (disable, require, verify-ca, verify-full)")
	flagSet.StringVar(&dbTZ, "db-timezone", getenvDefault("DB_TIMEZONE", "UTC"), "database timezone")
	flagSet.StringVar(&srvHost, "host", getenvDefault("FIELDFLOW_HOST", cfg.Server.Host), "server host (listen)")
	flagSet.IntVar(&srvPort, "port", func() int {
		if p := os.Getenv("FIELDFLOW_PORT"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				return n
			}
		}
		return cfg.Server.Port
	}(), "server port (listen)")
	_ = flagSet.Parse(os.Args[1:])

	// 组装 DSN
	dsn := flagDSN
	if dsn == "" {
		host := firstNonEmpty(dbHost, cfg.Database.Host)
		user := firstNonEmpty(dbUser, cfg.Database.User)
		pass := firstNonEmpty(dbPass, cfg.Database.Password)
		name := firstNonEmpty(dbName, cfg.Database.Name)
		port := dbPortStr
		if port == "" && cfg.Database.Port != 0 {
			port = fmt.Sprintf("%d", cfg.Database.Port)
		}
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", host, user, pass, name, port, dbSSLMode, dbTZ)
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Info)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	// 根据需要迁移（此处默认迁移，生产可改为条件控制）
	if err := db.AutoMigrate(
		&models.Organization{}, &models.Client{}, &models.Job{},
		&models.Estimate{}, &models.Invoice{}, &models.CommunicationLog{},
		&models.AutomationWorkflow{}, &models.AutomationExecutionLog{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// Redis（可选，通信量统计）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
	}

	// 外发网关客户端
	smsClient := telnyx.NewClient(&telnyx.Config{
		BaseURL:    cfg.Telnyx.BaseURL,
		APIKey:     cfg.Telnyx.APIKey,
		ProfileID:  cfg.Telnyx.ProfileID,
		WebhookURL: cfg.Telnyx.WebhookURL,
		Timeout:    cfg.Telnyx.Timeout,
	}, appLogger)
	emailClient := mailgun.NewClient(&mailgun.Config{
		BaseURL: cfg.Mailgun.BaseURL,
		APIKey:  cfg.Mailgun.APIKey,
		Domain:  cfg.Mailgun.Domain,
		Timeout: cfg.Mailgun.Timeout,
	}, appLogger)

	// 事件总线与实时推送
	bus := services.NewEventBus(64)
	wsHub := services.NewWebSocketHub()

	// 初始化业务服务
	deliveryService := services.NewDeliveryService(db, appLogger, smsClient, emailClient).WithEventBus(bus)
	if redisClient != nil {
		deliveryService = deliveryService.WithAnalytics(services.NewRedisSink(redisClient, appLogger))
	}
	automationService := services.NewAutomationService(db, appLogger).WithEventBus(bus)
	portalService := services.NewPortalService(db, appLogger, cfg.Portal.BaseURL)
	jobService := services.NewJobService(db, appLogger, automationService)
	billingService := services.NewBillingService(db, appLogger, deliveryService, portalService, automationService)

	// 执行器：配置了远程执行函数走 HTTP，否则内置本地执行器
	var executor services.Executor
	if cfg.Automation.ExecutorURL != "" {
		executor = services.NewHTTPExecutor(cfg.Automation.ExecutorURL, cfg.Automation.ExecutorSecret, cfg.Automation.ExecutorTimeout, appLogger)
	} else {
		executor = services.NewLocalExecutor(deliveryService, cfg.Portal.BaseURL, appLogger)
	}
	processor := services.NewProcessor(db, appLogger, executor, cfg.Automation).WithEventBus(bus)

	// 后台任务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wsHub.Run(ctx, bus)
	if cfg.Automation.Enabled {
		go processor.Start(ctx)
	}

	// 定时巡检与逾期扫描
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Automation.SweepSchedule, func() {
		processor.Sweep(context.Background())
	}); err != nil {
		appLogger.Fatalf("Failed to schedule sweep: %v", err)
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		if _, err := billingService.MarkInvoicesOverdue(context.Background()); err != nil {
			appLogger.Errorf("Overdue scan failed: %v", err)
		}
	}); err != nil {
		appLogger.Fatalf("Failed to schedule overdue scan: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddlewareWithConfig(cfg))
	r.Use(middleware.RateLimitMiddleware(cfg))
	// OpenTelemetry Gin 中间件
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查
	healthHandler := handlers.NewHealthHandler(cfg, db, redisClient, smsClient, emailClient)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if cfg.Monitoring.Enabled {
		metricsPath := cfg.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, healthHandler.Metrics)
	}

	// API 路由组（管理类）
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))

	jobsAPI := api.Group("/")
	jobsAPI.Use(middleware.RequireResourcePermission("jobs"))
	handlers.RegisterJobRoutes(jobsAPI, handlers.NewJobHandler(jobService, appLogger))

	workflowsAPI := api.Group("/")
	workflowsAPI.Use(middleware.RequireResourcePermission("workflows"))
	handlers.RegisterWorkflowRoutes(workflowsAPI, handlers.NewWorkflowHandler(automationService, appLogger))

	executionsAPI := api.Group("/")
	executionsAPI.Use(middleware.RequireResourcePermission("executions"))
	handlers.RegisterExecutionRoutes(executionsAPI, handlers.NewExecutionHandler(automationService, processor, appLogger))

	commsAPI := api.Group("/")
	commsAPI.Use(middleware.RequireResourcePermission("communications"))
	communicationHandler := handlers.NewCommunicationHandler(deliveryService, appLogger)
	handlers.RegisterCommunicationRoutes(commsAPI, communicationHandler)

	billingAPI := api.Group("/")
	billingAPI.Use(middleware.RequireResourcePermission("invoices"))
	handlers.RegisterBillingRoutes(billingAPI, handlers.NewBillingHandler(billingService, appLogger))

	// 后台实时推送
	api.GET("/ws", wsHub.HandleWebSocket)

	// 公共（无需登录）路由：客户门户与网关回执
	public := r.Group("/public")
	public.GET("/portal/:token", handlers.NewPortalHandler(portalService, appLogger).ResolveToken)

	webhooks := r.Group("/webhooks")
	webhooks.POST("/delivery-status", communicationHandler.DeliveryStatusWebhook)

	// 启动服务器
	host := firstNonEmpty(srvHost, cfg.Server.Host)
	port := srvPort
	if port == 0 {
		port = cfg.Server.Port
	}
	listenAddr := fmt.Sprintf("%s:%d", host, port)

	srv := &http.Server{Addr: listenAddr, Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

// helpers (copied from migrate for consistency)
func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// corsMiddleware CORS 中间件
func corsMiddlewareWithConfig(cfg *config.Config) gin.HandlerFunc {
	allowedOrigins := "*"
	allowedMethods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowedHeaders := "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization"
	if cfg != nil && cfg.Security.CORS.Enabled {
		if len(cfg.Security.CORS.AllowedOrigins) > 0 {
			allowedOrigins = strings.Join(cfg.Security.CORS.AllowedOrigins, ", ")
		}
		if len(cfg.Security.CORS.AllowedMethods) > 0 {
			allowedMethods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
		}
		if len(cfg.Security.CORS.AllowedHeaders) > 0 {
			allowedHeaders = strings.Join(cfg.Security.CORS.AllowedHeaders, ", ")
		}
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
