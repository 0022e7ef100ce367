package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/TheraGate/internal/middleware"
	"github.com/Strob0t/TheraGate/internal/port/cache"
)

// Version is reported by the operator API root.
var Version = "0.1.0"

// RouteConfig carries the per-route middleware settings.
type RouteConfig struct {
	MaxBodyBytes   int64
	AdminToken     string
	RateLimiter    *middleware.RateLimiter // applied to the webhook endpoint; nil disables
	Idempotency    cache.Cache             // operator POST replay store; nil disables
	IdempotencyTTL time.Duration
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, cfg RouteConfig) {
	r.Route("/api/v1", func(r chi.Router) {
		// Payment provider webhooks (outside admin auth, signature verified)
		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Handler)
			}
			r.Use(middleware.RawBody(cfg.MaxBodyBytes))
			r.Post("/webhooks/payments", h.HandlePaymentWebhook)
		})

		// Operator API
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.AdminToken))
			if cfg.Idempotency != nil {
				r.Use(middleware.Idempotency(cfg.Idempotency, cfg.IdempotencyTTL))
			}

			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": Version})
			})

			// Audit
			r.Get("/audit/recent", h.ListRecentAudit)
			r.Get("/audit/secure", h.ListSecureAudit)

			// Incidents
			r.Get("/incidents", h.ListIncidents)
			r.Post("/incidents", h.ReportIncident)
			r.Post("/incidents/emergency", h.ReportEmergency)
			r.Get("/incidents/{id}", h.GetIncident)
			r.Post("/incidents/{id}/status", h.UpdateIncidentStatus)

			// Connected accounts
			r.Get("/accounts/{id}/capabilities", h.GetCapabilities)
		})
	})
}
