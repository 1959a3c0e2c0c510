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
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
	"github.com/yashrajoria/marketplace/services/receipt-service/controllers"
	"github.com/yashrajoria/marketplace/services/receipt-service/repository"
	"github.com/yashrajoria/marketplace/services/receipt-service/routes"
	"github.com/yashrajoria/marketplace/services/receipt-service/services"
)

const serviceName = "receipt-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	var metrics *awspkg.MetricsClient
	var store repository.ReceiptStore
	var presign controllers.Presigner
	switch cfg.Store {
	case StoreMemory:
		zapLogger.Warn("RECEIPT_STORE=memory; receipts are lost on restart")
		store = repository.NewMemoryReceiptStore()
	default:
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			zapLogger.Fatal("Failed to load AWS config", zap.Error(err))
		}
		metrics = awspkg.NewMetricsClient(awsCfg)
		s3Client := awspkg.NewS3Client(awsCfg)
		store = repository.NewS3ReceiptStore(awspkg.NewObjectStore(s3Client, cfg.Bucket))
		presign = func(ctx context.Context, key string, expiry time.Duration) (string, error) {
			return awspkg.GeneratePresignedGetURL(ctx, s3Client, cfg.Bucket, key, expiry)
		}
	}

	var payments services.PaymentReader
	if cfg.PaymentServiceURL != "" {
		payments = services.NewHTTPPaymentReader(cfg.PaymentServiceURL)
	}
	receiptService := services.NewReceiptService(store, payments, zapLogger)

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
	routes.RegisterRoutes(r, &controllers.ReceiptController{Service: receiptService, Presign: presign}, auth.Middleware())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zapLogger.Info("Receipt service started", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down receipt service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}
