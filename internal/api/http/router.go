package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/meter-service/internal/api/http/handlers"
	"github.com/spec-kit/meter-service/internal/auth"
	"github.com/spec-kit/meter-service/internal/config"
	"github.com/spec-kit/meter-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimit      config.RateLimitConfig
	Gatherer       prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes. The auth gateway runs for every API
// route; guards decide per group whether a principal is required.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth", RateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)
	authGroup.Post("/refresh", cfg.Users.Refresh)

	users := app.Group("/users", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	users.Get("/me", cfg.Users.Me)
	users.Post("/me/password", cfg.Users.ChangePassword)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	admin.Patch("/users/:id/role", cfg.Users.UpdateRole)
}
