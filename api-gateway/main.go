package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/api-gateway/config"
	"github.com/yashrajoria/marketplace/api-gateway/middlewares"
	"github.com/yashrajoria/marketplace/api-gateway/proxy"
	"github.com/yashrajoria/marketplace/api-gateway/routes"
	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
)

const serviceName = "api-gateway"

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.FromEnv(ctx, serviceName)
	defer zapLogger.Sync() //nolint:errcheck

	if cfg.JWTSecret == "" {
		zapLogger.Fatal("JWT_SECRET is required")
	}

	var metrics *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
		zapLogger.Warn("AWS config unavailable, metrics disabled", zap.Error(err))
	} else {
		metrics = awspkg.NewMetricsClient(awsCfg)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middlewares.StripIdentity())
	r.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMin, cfg.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	routes.RegisterAllRoutes(r, cfg.Upstreams, proxy.NewForwarder(cfg.UpstreamTimeout, zapLogger), []byte(cfg.JWTSecret))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("API Gateway listening", zap.String("port", cfg.Port))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
}
