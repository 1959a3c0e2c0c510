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
	ddbpkg "github.com/yashrajoria/marketplace/pkg/dynamodb"
	"github.com/yashrajoria/marketplace/pkg/messaging/bus"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/logger"
	"github.com/yashrajoria/marketplace/services/common/middleware"
	"github.com/yashrajoria/marketplace/services/inventory-service/controllers"
	"github.com/yashrajoria/marketplace/services/inventory-service/repository"
	"github.com/yashrajoria/marketplace/services/inventory-service/routes"
	"github.com/yashrajoria/marketplace/services/inventory-service/services"
)

const serviceName = "inventory-service"

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
	var inventoryRepo repository.InventoryRepository
	switch cfg.Store {
	case StoreMemory:
		zapLogger.Warn("INVENTORY_STORE=memory; stock is lost on restart")
		inventoryRepo = repository.NewMemoryInventoryRepository()
	default:
		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			zapLogger.Fatal("Failed to load AWS config", zap.Error(err))
		}
		metrics = awspkg.NewMetricsClient(awsCfg)
		ddbClient := ddbpkg.NewClientFromConfig(awsCfg)

		if cfg.DDBCreateTables {
			for _, def := range repository.TableDefinitions(cfg.DDBTable, cfg.DDBAdjustments) {
				created, err := ddbpkg.EnsureTable(ctx, ddbClient, def)
				if err != nil {
					zapLogger.Fatal("Failed to provision table", zap.Error(err))
				}
				zapLogger.Info("Table ready", zap.String("table", *def.TableName), zap.Bool("created", created))
			}
		}
		inventoryRepo = repository.NewDynamoInventoryRepository(ddbClient, cfg.DDBTable, cfg.DDBAdjustments)
	}

	busCfg := bus.ConfigFromEnv()
	busCfg.Queues = []string{services.OrderFactsQueue}
	b, err := bus.Open(ctx, busCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open broker", zap.Error(err))
	}
	defer b.Close() //nolint:errcheck

	inventoryService := services.NewInventoryService(inventoryRepo, b.Publisher, metrics, zapLogger)
	consumer := services.NewOrderConsumer(inventoryService, zapLogger)
	if err := b.Consume(ctx, services.OrderFactsQueue, services.OrderFactRoutingKeys, consumer, zapLogger); err != nil {
		zapLogger.Fatal("Failed to start order consumer", zap.Error(err))
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
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": serviceName})
	})

	routes.RegisterRoutes(r, controllers.NewInventoryController(inventoryService), auth.Middleware())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		zapLogger.Info("Inventory Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down Inventory Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Inventory Service stopped gracefully")
}
