package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging/bus"
	"github.com/yashrajoria/marketplace/pkg/outbox"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/database"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
	"github.com/yashrajoria/marketplace/services/order-service/controllers"
	"github.com/yashrajoria/marketplace/services/order-service/models"
	repositories "github.com/yashrajoria/marketplace/services/order-service/repository"
	"github.com/yashrajoria/marketplace/services/order-service/routes"
	"github.com/yashrajoria/marketplace/services/order-service/services"
)

const serviceName = "order-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	db, err := database.ConnectPostgres(zapLogger, cfg.Postgres, &models.Order{}, &models.OrderItem{}, &outbox.Message{})
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	var metrics *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
		zapLogger.Warn("AWS config unavailable, metrics disabled", zap.Error(err))
	} else {
		metrics = awspkg.NewMetricsClient(awsCfg)
	}

	busCfg := bus.ConfigFromEnv()
	busCfg.Queues = []string{services.PaymentFactsQueue}
	b, err := bus.Open(ctx, busCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open broker", zap.Error(err))
	}
	defer b.Close() //nolint:errcheck

	orderRepo := repositories.NewGormOrderRepository(db)
	orderService := services.NewOrderService(
		orderRepo,
		services.NewHTTPCatalogClient(cfg.CatalogServiceURL),
		services.NewHTTPPaymentClient(cfg.PaymentServiceURL),
		services.Config{
			Pricing:               cfg.Pricing,
			Currency:              cfg.Currency,
			PendingPaymentTimeout: cfg.PendingPaymentTimeout,
		},
		metrics,
		zapLogger,
	)

	consumer := services.NewPaymentConsumer(orderService, zapLogger)
	if err := b.Consume(ctx, services.PaymentFactsQueue, services.PaymentFactRoutingKeys, consumer, zapLogger); err != nil {
		zapLogger.Fatal("Failed to start payment consumer", zap.Error(err))
	}

	relay := outbox.NewRelay(db, b.Publisher, zapLogger,
		outbox.WithMetrics(metrics), outbox.WithBatchSize(cfg.OutboxBatchSize))
	go relay.Run(ctx, cfg.OutboxInterval)
	go orderService.RunReconciler(ctx, cfg.ReconcileInterval)

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

	routes.RegisterOrderRoutes(r, controllers.NewOrderController(orderService), auth.Middleware())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Order service started", zap.String("port", cfg.Port))
	<-ctx.Done()
	zapLogger.Info("Shutting down order service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}
