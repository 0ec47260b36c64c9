package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/civic-requests/internal/api/http/handlers"
	"github.com/spec-kit/civic-requests/internal/auth"
	"github.com/spec-kit/civic-requests/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Requests       *handlers.RequestsHandler
	Agents         *handlers.AgentsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/operators/login", cfg.Auth.OperatorLogin)

	requests := app.Group("/requests", cfg.AuthMiddleware.Handle)
	requests.Post("", auth.RequireRole(domain.UserRoleCitizen), cfg.Requests.Create)
	requests.Get("/me", auth.RequireRole(domain.UserRoleCitizen), cfg.Requests.ListMine)
	requests.Get("", auth.RequireOperator(), cfg.Requests.List)
	requests.Get("/:id", auth.RequireAuthenticated(), cfg.Requests.Get)
	requests.Get("/:id/timeline", auth.RequireAuthenticated(), cfg.Requests.Timeline)

	requests.Patch("/:id/transition", auth.RequireOperator(), cfg.Requests.Transition)
	requests.Patch("/:id/priority", auth.RequireRole(domain.UserRoleStaff), cfg.Requests.UpdatePriority)
	requests.Patch("/:id/milestone", auth.RequireOperator(), cfg.Requests.Milestone)
	requests.Post("/:id/auto-assign", auth.RequireRole(domain.UserRoleStaff), cfg.Requests.AutoAssign)
	requests.Post("/:id/assign/:agent_id", auth.RequireRole(domain.UserRoleStaff), cfg.Requests.ManualAssign)
	requests.Post("/:id/escalate", auth.RequireRole(domain.UserRoleStaff), cfg.Requests.Escalate)
	requests.Post("/:id/merge", auth.RequireRole(domain.UserRoleStaff), cfg.Requests.Merge)

	agents := app.Group("/agents", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.UserRoleStaff))
	agents.Post("", cfg.Agents.Create)
	agents.Get("", cfg.Agents.List)
	agents.Get("/:id", cfg.Agents.Get)
}
