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
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/database"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
	"github.com/yashrajoria/marketplace/services/notification-service/consumer"
	"github.com/yashrajoria/marketplace/services/notification-service/controllers"
	"github.com/yashrajoria/marketplace/services/notification-service/models"
	"github.com/yashrajoria/marketplace/services/notification-service/repository"
	"github.com/yashrajoria/marketplace/services/notification-service/routes"
	"github.com/yashrajoria/marketplace/services/notification-service/sender"
	"github.com/yashrajoria/marketplace/services/notification-service/services"
)

const serviceName = "notification-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	db, err := database.ConnectPostgres(zapLogger, cfg.Postgres, &models.NotificationLog{})
	if err != nil {
		zapLogger.Fatal("DB connection failed", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	// CloudWatch (non-fatal)
	var metrics *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
		zapLogger.Warn("AWS config unavailable, metrics disabled", zap.Error(err))
	} else {
		metrics = awspkg.NewMetricsClient(awsCfg)
	}

	// Senders fall back to the log when a provider is not configured.
	logSender := sender.NewLogSender(zapLogger)
	var emailSender sender.EmailSender = logSender
	var smsSender sender.SMSSender = logSender
	if cfg.SMTP.Host != "" {
		smtpSender, err := sender.NewSMTPSender(cfg.SMTP)
		if err != nil {
			zapLogger.Fatal("Failed to init SMTP sender", zap.Error(err))
		}
		emailSender = smtpSender
	}
	if cfg.Twilio.AccountSID != "" {
		twilioSender, err := sender.NewTwilioSender(cfg.Twilio)
		if err != nil {
			zapLogger.Fatal("Failed to init Twilio sender", zap.Error(err))
		}
		smsSender = twilioSender
	}

	notificationRepo := repository.NewNotificationRepository(db)
	notificationService, err := services.NewNotificationService(
		notificationRepo,
		emailSender,
		smsSender,
		services.StaticDirectory{EmailDomain: cfg.EmailDomain},
		services.Config{OpsEmail: cfg.OpsEmail, MaxRetries: cfg.MaxRetries, RetryInterval: cfg.RetryInterval},
		metrics,
		zapLogger,
	)
	if err != nil {
		zapLogger.Fatal("Failed to initialize notification service", zap.Error(err))
	}

	busCfg := bus.ConfigFromEnv()
	busCfg.Queues = []string{consumer.FactsQueue}
	b, err := bus.Open(ctx, busCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open broker", zap.Error(err))
	}
	defer b.Close() //nolint:errcheck

	factConsumer := consumer.NewFactConsumer(notificationService, zapLogger)
	if err := b.Consume(ctx, consumer.FactsQueue, services.FactRoutingKeys(), factConsumer, zapLogger); err != nil {
		zapLogger.Fatal("Failed to start fact consumer", zap.Error(err))
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

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	routes.RegisterRoutes(r, controllers.NewNotificationController(notificationService, zapLogger), auth.Middleware())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		zapLogger.Info("Notification service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown error", zap.Error(err))
	}
	zapLogger.Info("Notification service stopped gracefully")
}
