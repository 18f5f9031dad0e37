package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sahelpay/sahelpay/internal/api/handler"
	"github.com/sahelpay/sahelpay/internal/api/middleware"
	"github.com/sahelpay/sahelpay/internal/api/spec"
	"github.com/sahelpay/sahelpay/internal/idempotency"
	"github.com/sahelpay/sahelpay/internal/service"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router wires the HTTP surface over the wallet services.
type Router struct {
	deps      *service.Deps
	db        *pgxpool.Pool
	rdb       *redis.Client
	idemStore *idempotency.Store
	logger    *zap.Logger
	publicRPS int
	authRPS   int
}

func NewRouter(deps *service.Deps, db *pgxpool.Pool, rdb *redis.Client, idemStore *idempotency.Store, logger *zap.Logger, publicRPS, authRPS int) *Router {
	return &Router{
		deps:      deps,
		db:        db,
		rdb:       rdb,
		idemStore: idemStore,
		logger:    logger,
		publicRPS: publicRPS,
		authRPS:   authRPS,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Services
	transferSvc := service.NewTransferService(api.deps)
	cashSvc := service.NewCashService(api.deps)
	topupSvc := service.NewTopupService(api.deps)
	billSvc := service.NewBillService(api.deps)
	walletSvc := service.NewWalletService(api.deps)

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.rdb)
	transferHandler := handler.NewTransferHandler(transferSvc)
	cashHandler := handler.NewCashHandler(cashSvc)
	topupHandler := handler.NewTopupHandler(topupSvc)
	billHandler := handler.NewBillHandler(billSvc)
	walletHandler := handler.NewWalletHandler(walletSvc)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.publicRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/livez", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Get("/v1/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/v1/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/v1/openapi.yaml"),
		))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.authRPS))

		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

		// Wallet
		r.Get("/v1/wallet", walletHandler.Balance)
		r.Get("/v1/wallet/entries", walletHandler.Statement)

		// Transfers
		r.With(idem).Post("/v1/transfers", transferHandler.Create)

		// Agent cash operations. Completion carries no Idempotency-Key:
		// the token's single-use claim already makes retries safe.
		r.With(idem).Post("/v1/cash/in", cashHandler.CashIn)
		r.With(idem).Post("/v1/cash/out/request", cashHandler.CashOutRequest)
		r.Post("/v1/cash/out/complete", cashHandler.CashOutComplete)
		r.Get("/v1/cash/out/token/{token}", cashHandler.TokenPreview)

		// Top-ups and bills
		r.With(idem).Post("/v1/topups", topupHandler.Create)
		r.With(idem).Post("/v1/bills", billHandler.Pay)
	})

	return r
}
