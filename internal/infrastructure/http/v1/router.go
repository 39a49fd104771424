// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/arrival"
	"lotledger/internal/domain/audit"
	"lotledger/internal/domain/consumption"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/internal/infrastructure/http/v1/middleware"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/internal/infrastructure/storage/postgres/lot_repo"
	"lotledger/internal/infrastructure/storage/postgres/purchase_repo"
	"lotledger/internal/infrastructure/storage/postgres/register_repo"
	"lotledger/internal/infrastructure/storage/postgres/sale_repo"
	"lotledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Pool is the database connection pool (also used for health checks).
	Pool *postgres.Pool

	// TxManager coordinates transactions across repos and services.
	TxManager *postgres.TxManager

	// Logger for request logging.
	Logger *logger.Logger

	// ChangeLog records posting snapshots. Optional.
	ChangeLog *postgres.ChangeLogService
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// Repos share the TxManager so they join the transaction carried in
	// the request context.
	lotRepo := lot_repo.NewLotRepo(cfg.TxManager)
	consumptionRepo := lot_repo.NewConsumptionRepo(cfg.TxManager)
	ledgerRepo := register_repo.NewLedgerRepo(cfg.TxManager)
	purchaseRepo := purchase_repo.NewPurchaseRepo(cfg.TxManager)
	saleRepo := sale_repo.NewSaleRepo(cfg.TxManager)

	ledgerService := ledger.NewService(ledgerRepo)
	consumptionService := consumption.NewService(lotRepo, consumptionRepo, ledgerService, saleRepo, cfg.TxManager)

	var changeLogger arrival.ChangeLogger
	if cfg.ChangeLog != nil {
		changeLogger = cfg.ChangeLog
	}
	arrivalService := arrival.NewService(purchaseRepo, lotRepo, ledgerService, consumptionService, changeLogger, cfg.TxManager)
	auditService := audit.NewService(lotRepo, ledgerRepo, cfg.TxManager)

	baseHandler := handlers.NewBaseHandler()

	// API v1
	apiV1 := router.Group("/api/v1")
	{
		arrivalHandler := handlers.NewArrivalHandler(baseHandler, arrivalService, cfg.ChangeLog)
		arrivalHandler.RegisterRoutes(apiV1.Group("/purchase-orders"))

		consumptionHandler := handlers.NewConsumptionHandler(baseHandler, consumptionService)
		consumptionHandler.RegisterRoutes(apiV1.Group("/sales"))

		lotsHandler := handlers.NewLotsHandler(baseHandler, lotRepo, ledgerService)
		lotsHandler.RegisterRoutes(apiV1.Group("/lots"), apiV1.Group("/ledger"))

		auditHandler := handlers.NewAuditHandler(baseHandler, auditService)
		auditHandler.RegisterRoutes(apiV1.Group("/audit"))
	}

	return router
}
