package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/provex-go-api/internal/config"
	"github.com/noah-isme/provex-go-api/internal/handler"
	"github.com/noah-isme/provex-go-api/internal/middleware"
	"github.com/noah-isme/provex-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ViolationHandler      *handler.ViolationHandler
	LeaseHandler          *handler.LeaseHandler
	SnapshotHandler       *handler.SnapshotHandler
	RollupHandler         *handler.RollupHandler
	ReconciliationHandler *handler.ReconciliationHandler
	JWTMiddleware         fiber.Handler
	OperatorOnly          fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	operatorOnly := deps.OperatorOnly
	if operatorOnly == nil {
		operatorOnly = func(c *fiber.Ctx) error { return c.Next() }
	}

	proctor := app.Group("/api/v2/proctor", jwtMiddleware)

	if deps.ViolationHandler != nil {
		deps.ViolationHandler.Register(proctor.Group("/violations"))
	}

	if deps.LeaseHandler != nil {
		deps.LeaseHandler.Register(proctor.Group("/leases"))
	}

	if deps.SnapshotHandler != nil {
		deps.SnapshotHandler.Register(proctor.Group("/snapshots"))
	}

	if deps.RollupHandler != nil {
		// Refreshes scan the whole violations table; keep them throttled.
		rollups := proctor.Group("/rollups")
		rollups.Use("/refresh", middleware.RateLimit("rollup_refresh", 6, time.Minute))
		deps.RollupHandler.Register(rollups)
	}

	if deps.ReconciliationHandler != nil {
		deps.ReconciliationHandler.Register(proctor.Group("/admin/reconciliation",
			operatorOnly,
			middleware.RateLimit("reconciliation", 2, time.Minute)))
	}
}
