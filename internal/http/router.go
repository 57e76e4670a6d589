package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/showgrid/booking-engine/internal/idempotency"
	"github.com/showgrid/booking-engine/internal/observability"
	"github.com/showgrid/booking-engine/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(JWTMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/holds", h.CreateHold)
	r.Delete("/v1/holds/{id}", h.ReleaseHold)
	r.Post("/v1/settle", h.Settle)
	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Post("/v1/group-invites/{id}/join", h.JoinInvite)
	r.Get("/v1/group-invites/{id}", h.GetInvite)
	r.Get("/v1/wallets/{id}", h.WalletBalance)
	r.Get("/v1/wallets/{id}/transactions", h.WalletHistory)
	r.Post("/v1/wallets/{id}/topup", h.WalletTopUp)
	r.Post("/v1/payments/callback", h.PaymentCallback)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
