package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/cutout/internal/api"
	apiMiddleware "github.com/phrazzld/cutout/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
// Worker mode exposes only the health endpoint.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	r.Get("/health", api.Health)

	if app.config.Server.Mode == "worker" {
		return r
	}

	taskHandler := api.NewTaskHandler(app.taskService, app.config.Upload.MaxBytes, app.logger)

	r.Route("/api", func(r chi.Router) {
		if app.config.AuthEnabled() {
			authMiddleware := apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret, app.logger)
			r.Use(authMiddleware.Authenticate)
		}

		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTaskStatus)
		r.Get("/tasks/{id}/result", taskHandler.GetTaskResult)
	})

	return r
}
