package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-judge-api/internal/config"
	"github.com/noah-isme/gema-judge-api/internal/handler"
	"github.com/noah-isme/gema-judge-api/internal/middleware"
	"github.com/noah-isme/gema-judge-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
// RateLimitStorage is nil when counters stay in process memory.
type Dependencies struct {
	SubmissionHandler       *handler.JudgeSubmissionHandler
	LeaderboardHandler      *handler.LeaderboardHandler
	DependencyHealthHandler *handler.DependencyHealthHandler
	ArtifactIndexHandler    *handler.ArtifactIndexHandler
	JWTMiddleware           fiber.Handler
	OptionalJWTMiddleware   fiber.Handler
	RateLimitStorage        fiber.Storage
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	if deps.DependencyHealthHandler != nil {
		api.Get("/health/dependencies", deps.DependencyHealthHandler.Handle)
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	optionalJWT := deps.OptionalJWTMiddleware
	if optionalJWT == nil {
		optionalJWT = func(c *fiber.Ctx) error { return c.Next() }
	}

	judge := app.Group("/api/v2/judge", optionalJWT)

	if deps.SubmissionHandler != nil {
		submissions := judge.Group("/submissions")
		deps.SubmissionHandler.Register(submissions, middleware.RateLimit("judge-submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow, deps.RateLimitStorage))
	}

	if deps.LeaderboardHandler != nil {
		deps.LeaderboardHandler.Register(judge)
	}

	admin := app.Group("/api/v2/judge/admin", jwtMiddleware, middleware.StaffOnly())
	if deps.LeaderboardHandler != nil {
		deps.LeaderboardHandler.RegisterExport(admin)
	}
	if deps.ArtifactIndexHandler != nil {
		deps.ArtifactIndexHandler.Register(admin)
	}
}
