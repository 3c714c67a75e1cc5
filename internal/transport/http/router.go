package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-mail-verifier/internal/config"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/transport/http/handler"
	appmiddleware "github.com/go-mail-verifier/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// rate limiter's background cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := appmiddleware.Deny
	if deps.TokenVerifier != nil {
		authMw = appmiddleware.Auth(deps.TokenVerifier)
	}
	submitRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	healthH := handler.NewHealthHandler()
	verifyH := handler.NewVerificationHandler(deps.Verification)
	bounceH := handler.NewBounceHandler(deps.Bounces)
	adminH := handler.NewAdminHandler(deps.Sweeper, deps.Scanner)

	r.Handle("/metrics", promhttp.Handler())

	// Legacy paths kept for existing integrations.
	r.With(submitRL.Limit).Post("/validate-email", verifyH.Submit)
	r.Post("/sns-bounce", bounceH.SNS)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(submitRL.Limit).Post("/verifications", verifyH.Submit)
		// SNS authenticates with message signatures, not bearer tokens.
		r.Post("/bounces/sns", bounceH.SNS)

		// ── Operator routes ──────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.Use(appmiddleware.RequireRole(domain.RoleOperator, domain.RoleAdmin))

			r.Get("/verifications/{address}", verifyH.Get)
			r.Post("/admin/sweep", adminH.Sweep)
			r.Post("/admin/scan", adminH.Scan)
		})
	})

	return r
}
