package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"processing-api/internal/audit"
	"processing-api/internal/cache"
	"processing-api/internal/compliance"
	"processing-api/internal/config"
	"processing-api/internal/controller"
	"processing-api/internal/database"
	"processing-api/internal/events"
	"processing-api/internal/external"
	"processing-api/internal/ledger"
	"processing-api/internal/middleware"
	"processing-api/internal/monitoring"
	"processing-api/internal/processor"
	"processing-api/internal/security"
	"processing-api/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
	}).Info("Starting Processing API")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	cancel()

	logrus.Info("Server exited")
}

// Application holds the wired dependency graph.
type Application struct {
	config  *config.Config
	router  *gin.Engine
	cleanup func()
}

func initializeApp(ctx context.Context, cfg *config.Config) (*Application, error) {
	logrus.Info("Initializing application dependencies...")

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
	}

	if err := ledger.EnsureIndexes(ctx, db.Mongo); err != nil {
		return nil, fmt.Errorf("failed to create ledger indexes: %w", err)
	}

	var metadataCipher *security.Cipher
	if cfg.Security.MetadataKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Security.MetadataKey)
		if err != nil {
			return nil, fmt.Errorf("invalid metadata key: %w", err)
		}
		if metadataCipher, err = security.NewCipher(key); err != nil {
			return nil, fmt.Errorf("failed to create metadata cipher: %w", err)
		}
	}
	gateway := ledger.NewMongoGateway(db.Mongo, metadataCipher)

	redisClient := cache.NewRedisClient(cfg.Redis)
	idempotencyStore := cache.NewIdempotencyStore(redisClient)
	if err := idempotencyStore.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// The broker is optional. Without it the pipeline runs fine; events and
	// reports are just not mirrored out of process.
	var publisher external.Publisher
	publisher, err = external.NewAMQPPublisher(&external.PublisherConfig{
		URL:                cfg.RabbitMQ.URL,
		EventExchange:      cfg.RabbitMQ.EventExchange,
		ComplianceExchange: cfg.RabbitMQ.ComplianceExchange,
		RetryAttempts:      cfg.RabbitMQ.RetryAttempts,
		RetryDelay:         cfg.RabbitMQ.RetryDelay,
	})
	if err != nil {
		logrus.WithError(err).Warn("RabbitMQ unavailable, events will not be mirrored to the broker")
		publisher = external.NopPublisher{}
	}

	auditLog := audit.NewLogger(logger.AuditLogger(cfg.Logging))
	auditLog.SetAlertSink(publisher)

	bus := events.NewBus()
	bus.Subscribe("*", func(event events.Event) {
		mirrorCtx, mirrorCancel := context.WithTimeout(context.Background(), cfg.RabbitMQ.ConnectionTimeout)
		defer mirrorCancel()

		err := publisher.PublishTransactionEvent(mirrorCtx, &external.TransactionEvent{
			EventType:     event.Name,
			TransactionID: event.TransactionID,
			UserID:        event.UserID,
			Timestamp:     event.Timestamp,
			Payload:       event.Payload,
		})
		if err != nil {
			logrus.WithError(err).WithField("event", event.Name).Warn("Failed to mirror event to broker")
		}
	})

	sanctions := external.NewNoHitSanctionsScreen()
	if cfg.Sanctions.BaseURL != "" {
		sanctions = external.NewHTTPSanctionsScreen(&external.SanctionsScreenConfig{
			BaseURL:    cfg.Sanctions.BaseURL,
			APIKey:     cfg.Sanctions.APIKey,
			SecretKey:  cfg.Sanctions.SecretKey,
			Timeout:    cfg.Sanctions.Timeout,
			MaxRetries: cfg.Sanctions.MaxRetries,
		})
	}

	engine := compliance.NewEngine(cfg.Compliance, sanctions, auditLog)
	reporter := compliance.NewReporter(decimal.NewFromFloat(cfg.Compliance.HighValueThreshold))

	network := external.NewSimulatedPaymentNetwork(external.SimulatedNetworkConfig{
		FailureRate:        cfg.Simulator.FailureRate,
		UnavailableRate:    cfg.Simulator.UnavailableRate,
		MinSettlementDelay: cfg.Simulator.MinSettlementDelay,
		MaxSettlementDelay: cfg.Simulator.MaxSettlementDelay,
	})
	rates := external.NewStaticRateProvider()

	proc := processor.NewProcessor(
		cfg.Processor,
		gateway,
		engine,
		reporter,
		bus,
		network,
		rates,
		publisher,
		auditLog,
	)
	proc.SetIdempotencyStore(idempotencyStore, cfg.Redis.IdempotencyTTL)

	var metrics *monitoring.Metrics
	if cfg.Monitoring.EnableMetrics {
		metrics = monitoring.NewMetrics(prometheus.DefaultRegisterer)
		proc.SetMetrics(metrics)
	}

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start processor: %w", err)
	}

	health := monitoring.NewHealthChecker(version)
	health.RegisterCheck("mongodb", db.HealthCheck)
	health.RegisterCheck("redis", idempotencyStore.Ping)

	processingController := controller.NewProcessingController(proc, engine, gateway)

	router := setupRouter(cfg, processingController, metrics, health)

	cleanup := func() {
		logrus.Info("Cleaning up application resources...")
		proc.Stop()
		if err := publisher.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close publisher")
		}
		if err := idempotencyStore.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close Redis client")
		}
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer closeCancel()
		if err := db.Close(closeCtx); err != nil {
			logrus.WithError(err).Warn("Failed to close MongoDB client")
		}
	}

	logrus.Info("Application initialization completed")

	return &Application{
		config:  cfg,
		router:  router,
		cleanup: cleanup,
	}, nil
}

func setupRouter(
	cfg *config.Config,
	processingController *controller.ProcessingController,
	metrics *monitoring.Metrics,
	health *monitoring.HealthChecker,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	if len(cfg.Server.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			logrus.WithError(err).Warn("Failed to set trusted proxies")
		}
	}

	hardening := middleware.NewSecurityMiddleware()
	router.Use(hardening.SecurityHeaders())
	router.Use(hardening.LimitRequestSize())

	logging := middleware.NewLoggingMiddleware(logrus.StandardLogger(), metrics)
	router.Use(logging.RequestLogging())

	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTExpiry)
	rateLimit := middleware.NewRateLimitMiddleware(cfg.Auth.RateLimit, cfg.Auth.RateBurst)

	router.GET(cfg.Monitoring.HealthPath, func(c *gin.Context) {
		status := health.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if status.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "service": "processing-api"})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
			"service":    "processing-api",
		})
	})

	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	api.Use(auth.JWTAuth())
	api.Use(rateLimit.Limit())
	{
		transactions := api.Group("/transactions")
		{
			transactions.POST("", processingController.SubmitTransaction)
			transactions.GET("/:id", processingController.GetTransactionStatus)
			transactions.POST("/:id/cancel", processingController.CancelTransaction)
		}

		processing := api.Group("/processing")
		{
			processing.GET("/stats", auth.RequireStatsAccess(), processingController.GetProcessingStats)
		}

		complianceChecks := api.Group("/compliance")
		complianceChecks.Use(auth.RequireComplianceAccess())
		{
			complianceChecks.GET("/kyc/:userId", processingController.ValidateKYC)
			complianceChecks.GET("/gdpr/:userId", processingController.ValidateGDPR)
		}
	}

	return router
}
