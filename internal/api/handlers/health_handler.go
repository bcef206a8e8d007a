package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wilson/brickwatch/internal/breaker"
	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/pkg/logger"
)

// HealthHandler reports service, store and pipeline health.
type HealthHandler struct {
	db      *pgxpool.Pool
	redis   *redis.Client
	queue   *queue.Queue
	breaker *breaker.Breaker
	logger  *logger.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *pgxpool.Pool, redisClient *redis.Client, q *queue.Queue, brk *breaker.Breaker, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   redisClient,
		queue:   q,
		breaker: brk,
		logger:  log.WithComponent("health-handler"),
	}
}

var breakerSources = []string{
	models.SourceMarketplace,
	models.SourceRetirementTracker,
	models.SourceMetadataSite,
	models.SourceCommunity,
}

// GetHealth handles GET /health
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]models.HealthCheck)
	status := "healthy"

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = models.HealthCheck{Status: "down", Message: err.Error()}
		status = "unhealthy"
	} else {
		checks["database"] = models.HealthCheck{Status: "up"}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = models.HealthCheck{Status: "down", Message: err.Error()}
		status = "unhealthy"
	} else {
		checks["redis"] = models.HealthCheck{Status: "up"}
	}

	if status == "healthy" {
		workerStatus, err := h.queue.WorkerStatus(ctx)
		switch {
		case err != nil:
			checks["workers"] = models.HealthCheck{Status: "unknown", Message: err.Error()}
		case !workerStatus.IsAlive:
			checks["workers"] = models.HealthCheck{Status: "down", Message: "no worker heartbeats"}
			status = "degraded"
		default:
			checks["workers"] = models.HealthCheck{Status: "up"}
		}

		stuck, err := h.queue.StuckActiveCount(ctx, models.StuckJobErrorMinutes*time.Minute)
		if err == nil && stuck > 0 {
			checks["stuck_jobs"] = models.HealthCheck{Status: "error", Message: "active jobs older than 15 minutes"}
			status = "degraded"
		}

		for _, source := range breakerSources {
			st, err := h.breaker.GetState(ctx, source)
			if err != nil {
				continue
			}
			if st.State == breaker.StateOpen {
				checks["breaker:"+source] = models.HealthCheck{Status: "open"}
				status = "degraded"
			}
		}
	}

	code := fiber.StatusOK
	if status == "unhealthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(models.HealthResponse{
		Status:    status,
		Service:   "brickwatch",
		Version:   "1.0",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// GetLiveness handles GET /health/live
func (h *HealthHandler) GetLiveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

// GetReadiness handles GET /health/ready
func (h *HealthHandler) GetReadiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "reason": "database"})
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "reason": "redis"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
