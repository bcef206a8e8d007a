package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/wilson/brickwatch/internal/api/handlers"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/middleware"
)

// SetupRoutes configures all API routes
func SetupRoutes(
	app *fiber.App,
	queueHandler *handlers.QueueHandler,
	scraperHandler *handlers.ScraperHandler,
	healthHandler *handlers.HealthHandler,
	rateLimiter *middleware.RateLimiter,
	auth *middleware.APIKeyAuth,
	log *logger.Logger,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key, X-Request-ID",
		MaxAge:       300,
	}))

	// Request logging
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Locals("requestid").(string)

		err := c.Next()

		log.Infof("[%s] %s %s - %d - %v",
			requestID,
			c.Method(),
			c.Path(),
			c.Response().StatusCode(),
			time.Since(start),
		)
		return err
	})

	// Health endpoints (no auth)
	app.Get("/health", healthHandler.GetHealth)
	app.Get("/health/live", healthHandler.GetLiveness)
	app.Get("/health/ready", healthHandler.GetReadiness)

	// API v1 routes
	api := app.Group("/api/v1")

	if rateLimiter != nil {
		api.Use(rateLimiter.Handler())
	}
	if auth != nil {
		api.Use(auth.Handler())
	}

	// Queue control plane
	api.Get("/queue/status", queueHandler.GetQueueStatus)
	api.Post("/queue/reset", queueHandler.ResetQueue)

	// Producer control plane
	api.Post("/scheduler/run", scraperHandler.RunScheduler)
	api.Post("/detect-missing-data", scraperHandler.DetectMissingData)
	api.Post("/scrape/force", scraperHandler.ForceScrape)

	// User-triggered retail paste intake
	api.Post("/retail/parse", scraperHandler.IngestRetailListing)
}
