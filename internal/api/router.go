package api

import (
	"github.com/ayo6706/seller-ledger/internal/api/handler"
	"github.com/ayo6706/seller-ledger/internal/api/middleware"
	"github.com/ayo6706/seller-ledger/internal/api/openapi"
	"github.com/ayo6706/seller-ledger/internal/config"
	"github.com/ayo6706/seller-ledger/internal/idempotency"
	"github.com/ayo6706/seller-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the domain services the HTTP layer exposes.
type Services struct {
	Ledger      *service.LedgerService
	Withdrawals *service.WithdrawalService
	Orders      *service.OrderService
	Intake      *service.IntakeService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	idemStore *idempotency.Store
	redis     redis.Cmdable
	auth      *middleware.Authenticator
	services  Services
}

// NewRouter wires handlers to routes. db and redisClient may be nil when the
// corresponding backend is not in use.
func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, idemStore *idempotency.Store, redisClient redis.Cmdable, services Services) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		idemStore: idemStore,
		redis:     redisClient,
		auth:      middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	orderHandler := handler.NewOrderHandler(api.services.Orders)
	withdrawalHandler := handler.NewWithdrawalHandler(api.services.Withdrawals)
	walletHandler := handler.NewWalletHandler(api.services.Ledger)
	intakeHandler := handler.NewIntakeHandler(api.services.Intake)

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", openapi.Handler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

		// Intake is authenticated by its HMAC signature rather than a bearer token.
		r.Post("/v1/intake/orders", intakeHandler.AcceptOrder)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		sellerOnly := middleware.RequireRole(middleware.RoleSeller)
		adminOnly := middleware.RequireRole(middleware.RoleAdmin)
		anyRole := middleware.RequireRole(middleware.RoleSeller, middleware.RoleAdmin)

		// Orders
		r.With(anyRole).Patch("/v1/orders/{id}/status", orderHandler.UpdateStatus)
		r.With(anyRole).Get("/v1/orders/{id}", orderHandler.GetOrder)
		r.With(sellerOnly).Get("/v1/seller-orders", orderHandler.ListSellerOrders)

		// Wallet and ledger
		r.With(sellerOnly).Get("/v1/wallet", walletHandler.GetOwnWallet)
		r.With(sellerOnly).Get("/v1/ledger", walletHandler.ListOwnLedger)
		r.With(adminOnly).Get("/v1/sellers/{sellerId}/wallet", walletHandler.GetSellerWallet)
		r.With(adminOnly).Get("/v1/sellers/{sellerId}/ledger", walletHandler.ListSellerLedger)

		// Withdrawals
		r.With(sellerOnly, middleware.IdempotencyMiddleware(api.idemStore, api.logger)).Post("/v1/withdrawals", withdrawalHandler.CreateWithdrawal)
		r.With(anyRole).Get("/v1/withdrawals", withdrawalHandler.ListWithdrawals)
		r.With(anyRole).Get("/v1/withdrawals/{id}", withdrawalHandler.GetWithdrawal)
		r.With(adminOnly).Post("/v1/withdrawals/{id}/decision", withdrawalHandler.DecideWithdrawal)
		r.With(adminOnly).Post("/v1/withdrawals/{id}/processing", withdrawalHandler.StartProcessing)
		r.With(sellerOnly).Post("/v1/withdrawals/{id}/cancel", withdrawalHandler.CancelWithdrawal)
	})

	return r
}
