package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	aws_pkg "github.com/yashrajoria/marketplace-backend/pkg/aws"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/config"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/controllers"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/database"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/providers"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/routes"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/services"
	"github.com/yashrajoria/marketplace-backend/services/common/auth"
	apperrors "github.com/yashrajoria/marketplace-backend/services/common/errors"
	"github.com/yashrajoria/marketplace-backend/services/common/logger"
	"github.com/yashrajoria/marketplace-backend/services/common/middleware"
)

func main() {
	ctx := context.Background()

	// --- 1. Configuration ---

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[CheckoutService] Failed to load config: ", err)
	}

	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		log.Fatal("[CheckoutService] Failed to load AWS config: ", err)
	}

	if err := cfg.ApplySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg)); err != nil {
		log.Fatal("[CheckoutService] Failed to load secrets: ", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("[CheckoutService] Invalid config: ", err)
	}

	// --- 2. Logging ---

	cwLogs, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogs, cfg.ServiceName, cfg.CloudWatchEnabled)
	if err != nil {
		log.Println("[CheckoutService] CloudWatch Logs disabled:", err)
	}
	var sink *aws_pkg.CloudWatchLogsClient
	if cwLogs != nil && cwLogs.IsEnabled() {
		sink = cwLogs
	}
	zapLogger, err := initLogger(cfg.Env, sink)
	if err != nil {
		log.Fatal("[CheckoutService] Failed to initialize logger: ", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	// --- 3. Infrastructure ---

	db, err := database.Connect(cfg.DSN(), cfg.DBMaxRetries, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cwMetrics := aws_pkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.CloudWatchEnabled)
	metrics := services.NewMetrics(registry, cwMetrics)

	var redisClient *redis.Client
	var cache services.ResultCache = services.NoopResultCache{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zapLogger.Warn("Failed to parse REDIS_URL, result cache disabled", zap.Error(err))
		} else {
			redisClient = redis.NewClient(opts)
			cache = services.NewRedisResultCache(redisClient, cfg.ResultCacheTTL, zapLogger)
		}
	}

	events := newEventPublisher(cfg, awsCfg, zapLogger)
	defer events.Close()

	var archive services.MismatchArchive = services.NoopMismatchArchive{}
	if cfg.ReconciliationBucket != "" {
		archive = services.NewS3MismatchArchive(aws_pkg.NewS3Archive(awsCfg, cfg.ReconciliationBucket))
	}

	// --- 4. Dependency Injection ---

	productRepo := repository.NewGormProductRepository(db)
	orderRepo := repository.NewGormOrderRepository(db)
	storeRepo := repository.NewGormStoreRepository(db)
	auditRepo := repository.NewGormAuditRepository(db)

	auditSinks := services.MultiAuditSink{services.NewDatabaseAuditSink(auditRepo)}
	if cfg.AuditQueueURL != "" {
		auditSinks = append(auditSinks, services.NewQueueAuditSink(aws_pkg.NewSQSProducer(awsCfg, cfg.AuditQueueURL)))
	}
	if cfg.Env != "production" {
		auditSinks = append(auditSinks, services.NewLogAuditSink(zapLogger))
	}
	auditLogger := services.NewAuditLogger(auditSinks, zapLogger, cfg.AuditBufferSize)
	auditLogger.OnDrop(metrics.AuditDropped)

	orderNumbers, err := services.NewSnowflakeOrderNumbers(cfg.OrderNodeID)
	if err != nil {
		zapLogger.Fatal("Failed to create order number generator", zap.Error(err))
	}

	limiter := services.NewAttemptLimiter(cfg.AttemptLimit, cfg.AttemptWindow)
	limiter.StartJanitor(cfg.AttemptWindow)

	gateway := providers.NewPaystackClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.GatewayTimeout, cfg.CurrencyMinorUnit).
		WithLatencyObserver(metrics.ObserveGateway)

	verification := services.NewVerificationService(services.VerificationDeps{
		Limiter:      limiter,
		Identity:     auth.NewTokenParser(cfg.JWTSecret),
		Gateway:      gateway,
		Extractor:    services.NewMetadataExtractor(),
		Guard:        services.NewIdempotencyGuard(orderRepo, storeRepo),
		Pricing:      services.NewPricingVerifier(productRepo),
		Fulfillment:  services.NewFulfillmentEngine(db, productRepo, orderRepo, orderNumbers, cfg.FulfillmentTimeout, zapLogger),
		Subscription: services.NewSubscriptionUpdater(db, storeRepo),
		Audit:        auditLogger,
		Cache:        cache,
		Events:       events,
		Archive:      archive,
		Metrics:      metrics,
		Tolerance:    cfg.AmountTolerance,
	}, zapLogger)

	verifyController := controllers.NewVerifyController(verification, zapLogger)

	// --- 5. HTTP Server & Middleware ---

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ipLimiter := middleware.NewIPRateLimiter(cfg.IPRatePerMinute, cfg.IPRateBurst, 10*time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.MetricsMiddleware(cwMetrics, cfg.ServiceName))
	r.Use(apperrors.ErrorMiddleware())
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		if err := ping(c.Request.Context(), db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := r.Group("")
	api.Use(middleware.RateLimitMiddleware(ipLimiter))
	routes.RegisterCheckoutRoutes(api, verifyController, cfg.SessionCookieName)

	// --- 6. Graceful Shutdown ---

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("Checkout Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down Checkout Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	limiter.Close()
	ipLimiter.Stop()
	if err := auditLogger.Close(shutdownCtx); err != nil {
		zapLogger.Error("Failed to drain audit log", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			zapLogger.Error("Failed to close Redis", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		zapLogger.Error("Failed to close database", zap.Error(err))
	}

	zapLogger.Info("Checkout Service stopped gracefully")
}

// initLogger avoids passing a typed nil writer to the logger.
func initLogger(env string, sink *aws_pkg.CloudWatchLogsClient) (*zap.Logger, error) {
	if sink == nil {
		return logger.Initialize(env, nil)
	}
	return logger.Initialize(env, sink)
}

func newEventPublisher(cfg *config.Config, awsCfg sdkaws.Config, zl *zap.Logger) services.EventPublisher {
	switch cfg.EventsBackend {
	case "sns":
		zl.Info("Publishing domain events to SNS", zap.String("topic", cfg.EventsTopicARN))
		return services.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.EventsTopicARN)
	case "kafka":
		zl.Info("Publishing domain events to Kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return services.NewKafkaEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return services.NoopEventPublisher{}
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
