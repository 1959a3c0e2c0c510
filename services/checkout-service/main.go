package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging/bus"
	"github.com/yashrajoria/marketplace/services/checkout-service/clients"
	"github.com/yashrajoria/marketplace/services/checkout-service/config"
	"github.com/yashrajoria/marketplace/services/checkout-service/controllers"
	"github.com/yashrajoria/marketplace/services/checkout-service/routes"
	"github.com/yashrajoria/marketplace/services/checkout-service/services"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
)

const serviceName = "checkout-service"

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	var metrics *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
		zapLogger.Warn("AWS config unavailable, metrics disabled", zap.Error(err))
	} else {
		metrics = awspkg.NewMetricsClient(awsCfg)
	}

	// Redis is optional; it only backs Idempotency-Key replay.
	var idem services.IdempotencyStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
		idem = services.NewRedisIdempotencyStore(redisClient, cfg.IdempotencyTTL)
		zapLogger.Info("Connected to Redis")
	}

	checkout := services.NewCheckoutService(
		clients.NewCartClient(cfg.CartServiceURL),
		clients.NewOrderClient(cfg.OrderServiceURL),
		clients.NewPaymentClient(cfg.PaymentServiceURL),
		clients.NewReceiptClient(cfg.ReceiptServiceURL),
		services.Config{ConfirmTimeout: cfg.ConfirmTimeout},
		metrics,
		zapLogger,
	)

	busCfg := bus.ConfigFromEnv()
	busCfg.Queues = []string{services.StockFactsQueue}
	b, err := bus.Open(ctx, busCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open broker", zap.Error(err))
	}
	defer b.Close() //nolint:errcheck

	consumer := services.NewStockConsumer(checkout, zapLogger)
	if err := b.Consume(ctx, services.StockFactsQueue, services.StockFactRoutingKeys, consumer, zapLogger); err != nil {
		zapLogger.Fatal("Failed to start stock consumer", zap.Error(err))
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	ctrl := controllers.NewCheckoutController(checkout, idem, zapLogger)
	routes.RegisterRoutes(r, ctrl, auth.Middleware(), cfg.RateLimitPerMin, cfg.RateLimitBurst)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zapLogger.Info("Checkout service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down checkout service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}
