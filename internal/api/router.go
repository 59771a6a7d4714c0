package api

import (
	"net/http"

	"github.com/ayo6706/cashdesk-gateway/internal/api/handler"
	"github.com/ayo6706/cashdesk-gateway/internal/api/middleware"
	"github.com/ayo6706/cashdesk-gateway/internal/api/spec"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// RouterConfig carries the HTTP-layer knobs.
type RouterConfig struct {
	PublicRateLimitRPS int
	AuthRateLimitRPS   int
}

// Dependencies are the collaborators the HTTP layer dispatches to.
type Dependencies struct {
	Logger        *zap.Logger
	Auth          *middleware.Authenticator
	Idempotency   middleware.KeyStore
	Webhooks      handler.WebhookProcessor
	Withdrawals   handler.WithdrawalProcessor
	Requests      handler.RequestOperator
	Payments      handler.PaymentOperator
	Rates         handler.RateResolver
	Health        *handler.HealthHandler
	MetricsHandle http.Handler
}

type Router struct {
	deps Dependencies
	cfg  RouterConfig
}

func NewRouter(deps Dependencies, cfg RouterConfig) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MetricsHandle == nil {
		deps.MetricsHandle = promhttp.Handler()
	}
	if cfg.PublicRateLimitRPS <= 0 {
		cfg.PublicRateLimitRPS = 50
	}
	if cfg.AuthRateLimitRPS <= 0 {
		cfg.AuthRateLimitRPS = 20
	}
	return &Router{deps: deps, cfg: cfg}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(middleware.Logging(api.deps.Logger))
	r.Use(middleware.Recover(api.deps.Logger))
	r.Use(middleware.Metrics)

	webhookHandler := handler.NewWebhookHandler(api.deps.Webhooks)
	withdrawalHandler := handler.NewWithdrawalHandler(api.deps.Withdrawals)
	requestHandler := handler.NewRequestHandler(api.deps.Requests)
	paymentHandler := handler.NewPaymentHandler(api.deps.Payments)
	rateHandler := handler.NewRateHandler(api.deps.Rates)

	if api.deps.Health != nil {
		r.Get("/health/live", api.deps.Health.Live)
		r.Get("/health/ready", api.deps.Health.Ready)
	}
	r.Handle("/metrics", api.deps.MetricsHandle)
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Provider webhooks authenticate by body signature, not by token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/cryptobot", webhookHandler.CryptoBot)
		r.Post("/v1/webhooks/bank", webhookHandler.Bank)
	})

	r.Group(func(r chi.Router) {
		r.Use(api.deps.Auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(
			middleware.RequireRole(middleware.RolePlayer),
			middleware.Idempotency(api.deps.Idempotency, api.deps.Logger),
		).Post("/v1/withdrawals", withdrawalHandler.Submit)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleOperator))

			r.Get("/v1/requests/{id}", requestHandler.Get)
			r.Post("/v1/requests/{id}/resolve", requestHandler.Resolve)
			r.Post("/v1/requests/{id}/defer", requestHandler.Defer)
			r.With(middleware.Idempotency(api.deps.Idempotency, api.deps.Logger)).
				Post("/v1/withdrawals/{id}/check", withdrawalHandler.Recheck)
			r.With(middleware.Idempotency(api.deps.Idempotency, api.deps.Logger)).
				Post("/v1/withdrawals/{id}/execute", withdrawalHandler.Execute)

			r.Get("/v1/payments/unmatched", paymentHandler.ListUnmatched)
			r.Get("/v1/payments/unmatched/export", paymentHandler.Export)
			r.Post("/v1/payments/{invoiceID}/bind", paymentHandler.Bind)

			r.Get("/v1/rates/{source}/{target}", rateHandler.Quote)
		})
	})

	return r
}
