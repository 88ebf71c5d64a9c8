package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	apiContext "hookgate/internal/api/context"
	"hookgate/internal/api/handlers"
	"hookgate/internal/api/middleware"
	"hookgate/internal/pkg/errors"
)

type Dependencies struct {
	WebhookHandler  *handlers.WebhookHandler
	AuthHandler     *handlers.AuthHandler
	SecurityHandler *handlers.SecurityHandler
	EventHandler    *handlers.EventHandler
	MetricsHandler  *handlers.MetricsHandler
	ReportHandler   *handlers.ReportHandler
	AuditHandler    *handlers.AuditHandler
	ConfigHandler   *handlers.ConfigHandler
	HealthHandler   *handlers.HealthHandler

	AuthMiddleware     *middleware.AuthMiddleware
	ClientIPMiddleware *middleware.ClientIPMiddleware
	// LoginLimiter throttles the token endpoint per client IP.
	LoginLimiter *middleware.RateLimiter
	Logger       zerolog.Logger
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		deps.Logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panic")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}

	// Inbound webhooks
	router.GET("/webhooks/:platform", wrap(deps.WebhookHandler.Verify))
	router.POST("/webhooks/:platform", wrap(deps.WebhookHandler.Receive))
	router.GET("/webhooks/:platform/:config_id", wrap(deps.WebhookHandler.Verify))
	router.POST("/webhooks/:platform/:config_id", wrap(deps.WebhookHandler.Receive))

	// Public probes
	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Admin authentication
	token := deps.AuthHandler.Token
	if deps.LoginLimiter != nil {
		token = deps.LoginLimiter.Handle(token)
	}
	router.POST("/api/v1/admin/token", wrap(token))

	admin := func(h http.HandlerFunc) httprouter.Handle {
		return chain(h, deps.AuthMiddleware.Handle, requireRole("admin"))
	}

	// Security management
	router.GET("/api/v1/admin/security/stats", admin(deps.SecurityHandler.Stats))
	router.GET("/api/v1/admin/security/blocked-ips", admin(deps.SecurityHandler.ListBlocked))
	router.POST("/api/v1/admin/security/blocked-ips", admin(deps.SecurityHandler.Block))
	router.DELETE("/api/v1/admin/security/blocked-ips/:ip", admin(deps.SecurityHandler.Unblock))
	router.DELETE("/api/v1/admin/security/violations", admin(deps.SecurityHandler.ClearViolations))
	router.GET("/api/v1/admin/security/config", admin(deps.SecurityHandler.GetConfig))
	router.PUT("/api/v1/admin/security/config", admin(deps.SecurityHandler.UpdateConfig))

	// Health, events and metrics
	router.GET("/api/v1/admin/health", admin(deps.HealthHandler.Detail))
	router.GET("/api/v1/admin/events", admin(deps.EventHandler.List))
	router.GET("/api/v1/admin/events/:event_id", admin(deps.EventHandler.Get))
	router.POST("/api/v1/admin/events/:event_id/retry", admin(deps.EventHandler.Retry))
	router.GET("/api/v1/admin/metrics/delivery", admin(deps.MetricsHandler.Delivery))
	router.GET("/api/v1/admin/report", admin(deps.ReportHandler.Export))
	router.GET("/api/v1/admin/audit", admin(deps.AuditHandler.List))

	// Webhook configurations
	router.GET("/api/v1/admin/webhook-configs", admin(deps.ConfigHandler.List))
	router.POST("/api/v1/admin/webhook-configs", admin(deps.ConfigHandler.Create))
	router.GET("/api/v1/admin/webhook-configs/:config_id", admin(deps.ConfigHandler.Get))
	router.PUT("/api/v1/admin/webhook-configs/:config_id", admin(deps.ConfigHandler.Update))
	router.DELETE("/api/v1/admin/webhook-configs/:config_id", admin(deps.ConfigHandler.Delete))

	return router
}

// NewHandler wraps the router with the per-request middleware every route
// needs: client IP resolution, then request logging.
func NewHandler(deps *Dependencies) http.Handler {
	var h http.Handler = NewRouter(deps)
	h = middleware.RequestLogger(deps.Logger)(h)
	if deps.ClientIPMiddleware != nil {
		h = deps.ClientIPMiddleware.Wrap(h)
	}
	return h
}

func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// wrap adapts an http.HandlerFunc and exposes route params via the context.
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := apiContext.ClaimsFrom(r.Context())
			if !ok {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
				return
			}

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
