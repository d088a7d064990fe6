package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-pipeline/internal/api/http/handlers"
	"github.com/spec-kit/ticket-pipeline/internal/auth"
	"github.com/spec-kit/ticket-pipeline/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Events         *handlers.EventsHandler
	Auth           *handlers.AuthHandler
	Workflows      *handlers.WorkflowsHandler
	ETL            *handlers.ETLHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/events", cfg.Events.Submit)
	app.Post("/auth/operator/login", cfg.Auth.Login)

	authn := cfg.AuthMiddleware.Handle
	anyRole := auth.RequireRole()
	operator := auth.RequireRole(domain.RoleOperator)

	app.Get("/workflows", authn, anyRole, cfg.Workflows.List)
	app.Get("/workflows/:id", authn, anyRole, cfg.Workflows.Get)
	app.Post("/workflows/:id/acknowledge", authn, operator, cfg.Workflows.Acknowledge)
	app.Post("/workflows/:id/reprocess", authn, operator, cfg.Workflows.Reprocess)

	app.Post("/etl/cycles", authn, operator, cfg.ETL.RunCycle)
	app.Get("/etl/rejections", authn, anyRole, cfg.ETL.Rejections)

	app.Get("/metrics", authn, anyRole, cfg.Metrics.Snapshot)
}
