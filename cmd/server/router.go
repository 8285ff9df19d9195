package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/txtasks/internal/api"
	apiMiddleware "github.com/phrazzld/txtasks/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))
	r.Use(middleware.Recoverer)

	jobHandler := api.NewJobHandler(app.tx, app.ledger, app.client, app.config.Broker.DefaultQueue, app.logger,
		api.WithJobCatalog(app.registry),
		api.WithQueues(app.config.Queues()...))
	healthHandler := api.NewHealthHandler(app.healthChecks())

	r.Route("/api", func(r chi.Router) {
		r.Use(apiMiddleware.DeferredQueue)
		r.Post("/jobs", jobHandler.CreateJob)
	})

	r.Get("/health", healthHandler.Health)

	return r
}
