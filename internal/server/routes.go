package server

import (
	"github.com/gofiber/fiber/v2"

	"bggsync/internal/core/syncjob"
	"bggsync/internal/health"
)

type Dependencies struct {
	Sync   *syncjob.Handler
	Checks map[string]health.Check
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Checks)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	api.Post("/sync", d.Sync.HandleCreateSync)
	api.Get("/sync/config", d.Sync.HandleGetConfig)
	api.Get("/sync/:runId", d.Sync.HandleGetSync)

	// Signed push entry for dispatcher and worker units
	api.Post("/tasks/:type", d.Sync.HandleTask)

	return healthHandler
}
