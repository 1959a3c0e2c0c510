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
	"github.com/yashrajoria/marketplace/services/payment-service/config"
	"github.com/yashrajoria/marketplace/services/payment-service/controllers"
	"github.com/yashrajoria/marketplace/services/payment-service/gateway"
	"github.com/yashrajoria/marketplace/services/payment-service/models"
	"github.com/yashrajoria/marketplace/services/payment-service/repository"
	"github.com/yashrajoria/marketplace/services/payment-service/routes"
	"github.com/yashrajoria/marketplace/services/payment-service/services"
)

const serviceName = "payment-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[PaymentService] Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	db, err := database.ConnectPostgres(zapLogger, cfg.Postgres, &models.Payment{}, &outbox.Message{})
	if err != nil {
		zapLogger.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	var metrics *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
		zapLogger.Warn("AWS config unavailable, metrics disabled", zap.Error(err))
	} else {
		metrics = awspkg.NewMetricsClient(awsCfg)
	}

	// The payment ledger only publishes.
	b, err := bus.Open(ctx, bus.ConfigFromEnv(), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open broker", zap.Error(err))
	}
	defer b.Close() //nolint:errcheck

	var (
		gw      gateway.Gateway
		webhook controllers.WebhookParser
	)
	if cfg.Gateway == config.GatewayFake {
		zapLogger.Warn("Using the fake payment gateway")
		gw = gateway.NewFake()
	} else {
		stripeGW := gateway.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookKey)
		gw, webhook = stripeGW, stripeGW
	}

	var orders services.OrderReader
	if cfg.OrderServiceURL != "" {
		orders = services.NewHTTPOrderReader(cfg.OrderServiceURL)
	}

	paymentRepo := repository.NewGormPaymentRepo(db)
	paymentService := services.NewPaymentService(paymentRepo, gw, orders, cfg.Currency, metrics, zapLogger)

	relay := outbox.NewRelay(db, b.Publisher, zapLogger,
		outbox.WithMetrics(metrics), outbox.WithBatchSize(cfg.OutboxBatchSize))
	go relay.Run(ctx, cfg.OutboxInterval)

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

	pc := &controllers.PaymentController{
		Service: paymentService,
		Webhook: webhook,
		Logger:  zapLogger,
	}
	routes.RegisterPaymentRoutes(r, pc, auth.Middleware())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Payment service started", zap.String("port", cfg.Port), zap.String("gateway", cfg.Gateway))
	<-ctx.Done()
	zapLogger.Info("Shutting down payment service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
}
