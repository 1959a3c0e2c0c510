package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/services/cart-service/config"
	"github.com/yashrajoria/marketplace/services/cart-service/controllers"
	"github.com/yashrajoria/marketplace/services/cart-service/database"
	"github.com/yashrajoria/marketplace/services/cart-service/routes"
	"github.com/yashrajoria/marketplace/services/cart-service/services"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
)

const serviceName = "cart-service"

func main() {
	// Load environment configuration
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("Redis unavailable", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck
	zapLogger.Info("Connected to Redis")

	var metrics *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
		metrics = awspkg.NewMetricsClient(awsCfg)
	}

	repo := database.NewCartRepository(redisClient, cfg.CartTTL)
	service := services.NewCartService(repo, services.NewHTTPCatalog(cfg.CatalogURL), zapLogger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.MetricsMiddleware(metrics, serviceName))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(apperrors.ErrorMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	routes.RegisterCartRoutes(router, controllers.NewCartController(service), auth.Middleware())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zapLogger.Info("Cart Service is running", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Shutdown error", zap.Error(err))
	}
	zapLogger.Info("Server shutdown complete.")
}
