package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/internal/scheduler"
	"github.com/wilson/brickwatch/pkg/logger"
)

// QueueHandler exposes the queue side of the control plane.
type QueueHandler struct {
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(q *queue.Queue, sched *scheduler.Scheduler, log *logger.Logger) *QueueHandler {
	return &QueueHandler{
		queue:     q,
		scheduler: sched,
		logger:    log.WithComponent("queue-handler"),
	}
}

// GetQueueStatus handles GET /api/v1/queue/status
func (h *QueueHandler) GetQueueStatus(c *fiber.Ctx) error {
	requestID := c.Locals("requestid").(string)
	ctx := c.Context()

	counts, err := h.queue.Counts(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get queue counts")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("QUEUE_ERROR", "Failed to read queue counts", err.Error(), requestID),
		)
	}

	jobs := make(map[string][]*models.Job)
	for _, state := range []models.JobState{
		models.JobStateWaiting, models.JobStateActive,
		models.JobStateCompleted, models.JobStateFailed,
	} {
		list, err := h.queue.List(ctx, state, 20)
		if err != nil {
			h.logger.WithError(err).Errorf("Failed to list %s jobs", state)
			return c.Status(fiber.StatusInternalServerError).JSON(
				models.NewErrorResponse("QUEUE_ERROR", "Failed to list jobs", err.Error(), requestID),
			)
		}
		if list == nil {
			list = []*models.Job{}
		}
		jobs[string(state)] = list
	}

	workerStatus, err := h.queue.WorkerStatus(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get worker status")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("QUEUE_ERROR", "Failed to read worker status", err.Error(), requestID),
		)
	}

	stuckWarn, err := h.queue.StuckActiveCount(ctx, models.StuckJobWarnMinutes*time.Minute)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to count stuck jobs")
	}
	stuckError, err := h.queue.StuckActiveCount(ctx, models.StuckJobErrorMinutes*time.Minute)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to count critically stuck jobs")
	}

	return c.JSON(models.NewSuccessResponse(models.QueueStatusResponse{
		Counts:       counts,
		Jobs:         jobs,
		WorkerStatus: workerStatus,
		StuckWarn:    stuckWarn,
		StuckError:   stuckError,
	}, requestID))
}

// ResetQueue handles POST /api/v1/queue/reset: obliterate everything, then
// repopulate from current repository state.
func (h *QueueHandler) ResetQueue(c *fiber.Ctx) error {
	requestID := c.Locals("requestid").(string)
	ctx := c.Context()

	cleared, err := h.queue.Obliterate(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to obliterate queue")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("QUEUE_ERROR", "Failed to obliterate queue", err.Error(), requestID),
		)
	}

	results, err := h.scheduler.TriggerAll(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to repopulate queue")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("SCHEDULER_ERROR", "Queue cleared but repopulation failed", err.Error(), requestID),
		)
	}

	repopulated := 0
	for _, r := range results {
		repopulated += r.JobsEnqueued
	}

	h.logger.Infof("Queue reset: cleared=%d repopulated=%d", cleared, repopulated)

	return c.JSON(models.NewSuccessResponse(fiber.Map{
		"cleared":     fiber.Map{"total": cleared},
		"repopulated": fiber.Map{"total": repopulated},
	}, requestID))
}
