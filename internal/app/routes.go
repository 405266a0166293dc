package app

import (
	"net/http"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/handlers"
	"automation-engine/internal/ingest"
	"automation-engine/internal/middleware"
	"automation-engine/internal/ratelimit"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all HTTP routes for the engine
func SetupRoutes(router *mux.Router, h *handlers.Handlers, inbound *ingest.Handler, adminToken string, rateLimiter ratelimit.Limiter) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logging.GetGlobalLogger()))

	// Health check (no auth required)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Inbound callbacks authenticate with their own shared secret
	if inbound != nil {
		inbound.Register(router)
	}

	// Admin API - bearer token and rate limiting
	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.BearerToken(adminToken))
	if rateLimiter != nil {
		api.Use(ratelimit.HTTPMiddleware(rateLimiter, ratelimit.IPBasedKey, logging.GetGlobalLogger()))
	}
	h.RegisterAPI(api)
}

// Handler builds the HTTP handler for the admin API, health and inbound
// webhooks.
func (app *App) Handler() http.Handler {
	h := handlers.New(handlers.Deps{
		Catalog:  app.Catalog,
		Store:    app.Store,
		Webhooks: app.Webhooks,
		Events:   app.Events,
		Modules:  app.Modules,
		Health:   app.healthChecks(),
		Version:  app.Version,
		Logger:   logging.GetGlobalLogger(),
	})

	var inbound *ingest.Handler
	if app.Config.InboundSecret != "" {
		inbound = ingest.NewHandler(app.Webhooks, app.Events, ingest.Options{
			Secret:       app.Config.InboundSecret,
			MaxBodyBytes: app.Config.InboundMaxBodyBytes,
			Limiter:      app.Limiter,
			Dedupe:       app.deliveryCache(),
			DedupeTTL:    app.Config.InboundDedupeTTL,
			Location:     app.Config.Location(),
			Logger:       logging.GetGlobalLogger(),
		})
	} else {
		app.Logger.Warn("INBOUND_WEBHOOK_SECRET not set, inbound webhooks disabled")
	}
	if app.Config.AdminToken == "" {
		app.Logger.Warn("ADMIN_TOKEN not set, admin API is unauthenticated")
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, inbound, app.Config.AdminToken, app.Limiter)
	return router
}

func (app *App) healthChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{{Name: "database", Check: app.Store.Ping}}
	if app.Redis != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: app.Redis.Health})
	}
	if app.Broker != nil {
		checks = append(checks, handlers.HealthCheck{Name: "broker", Check: app.Broker.Health})
	}
	return checks
}
