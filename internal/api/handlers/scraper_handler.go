package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scheduler"
	"github.com/wilson/brickwatch/internal/scraper"
	"github.com/wilson/brickwatch/pkg/logger"
)

// ScraperHandler exposes the producer side of the control plane: scheduler
// sweeps, missing-data detection, force scrapes and retail paste intake.
type ScraperHandler struct {
	scheduler *scheduler.Scheduler
	detector  *scheduler.Detector
	retail    *scraper.RetailIngester
	logger    *logger.Logger
}

// NewScraperHandler creates a new scraper handler
func NewScraperHandler(sched *scheduler.Scheduler, detector *scheduler.Detector, retail *scraper.RetailIngester, log *logger.Logger) *ScraperHandler {
	return &ScraperHandler{
		scheduler: sched,
		detector:  detector,
		retail:    retail,
		logger:    log.WithComponent("scraper-handler"),
	}
}

// RunScheduler handles POST /api/v1/scheduler/run
func (h *ScraperHandler) RunScheduler(c *fiber.Ctx) error {
	requestID := c.Locals("requestid").(string)

	h.logger.Info("Manual scheduler sweep triggered")
	results, err := h.scheduler.Sweep(c.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual sweep failed")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("SCHEDULER_ERROR", "Sweep failed", err.Error(), requestID),
		)
	}

	jobsQueued := 0
	priorityCounts := map[string]int{"HIGH": 0, "MEDIUM": 0, "NORMAL": 0, "LOW": 0}
	for _, r := range results {
		jobsQueued += r.JobsEnqueued
		for band, n := range r.Priorities {
			priorityCounts[band] += n
		}
	}

	return c.JSON(models.NewSuccessResponse(fiber.Map{
		"jobs_queued":     jobsQueued,
		"priority_counts": priorityCounts,
		"sources":         results,
	}, requestID))
}

// DetectMissingData handles POST /api/v1/detect-missing-data
func (h *ScraperHandler) DetectMissingData(c *fiber.Ctx) error {
	requestID := c.Locals("requestid").(string)

	h.logger.Info("Manual missing-data detection triggered")
	result, err := h.detector.Detect(c.Context())
	if err != nil {
		h.logger.WithError(err).Error("Missing-data detection failed")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("DETECTOR_ERROR", "Detection failed", err.Error(), requestID),
		)
	}

	return c.JSON(models.NewSuccessResponse(fiber.Map{"result": result}, requestID))
}

// ForceScrape handles POST /api/v1/scrape/force
func (h *ScraperHandler) ForceScrape(c *fiber.Ctx) error {
	requestID := c.Locals("requestid").(string)

	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			models.NewErrorResponse("INVALID_REQUEST", "Failed to parse request body", err.Error(), requestID),
		)
	}
	if len(req.ItemIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(
			models.NewErrorResponse("INVALID_REQUEST", "item_ids must not be empty", "", requestID),
		)
	}

	enqueued, err := h.scheduler.ForceScrape(c.Context(), req.ItemIDs)
	if err != nil {
		h.logger.WithError(err).Error("Force scrape failed")
		return c.Status(fiber.StatusInternalServerError).JSON(
			models.NewErrorResponse("SCHEDULER_ERROR", "Force scrape failed", err.Error(), requestID),
		)
	}

	return c.JSON(models.NewSuccessResponse(fiber.Map{
		"result": fiber.Map{"jobs_enqueued": enqueued},
	}, requestID))
}

// IngestRetailListing handles POST /api/v1/retail/parse: user-pasted
// listing HTML plus its source URL.
func (h *ScraperHandler) IngestRetailListing(c *fiber.Ctx) error {
	requestID := c.Locals("requestid").(string)

	var req struct {
		HTML      string `json:"html"`
		SourceURL string `json:"source_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			models.NewErrorResponse("INVALID_REQUEST", "Failed to parse request body", err.Error(), requestID),
		)
	}

	result, err := h.retail.Ingest(c.Context(), req.HTML, req.SourceURL)
	if err != nil {
		status := fiber.StatusInternalServerError
		code := "INGEST_ERROR"
		if errors.Is(err, scraper.ErrInvalidInput) {
			status = fiber.StatusBadRequest
			code = "INVALID_REQUEST"
		}
		h.logger.WithError(err).Warn("Retail paste ingest failed")
		return c.Status(status).JSON(
			models.NewErrorResponse(code, "Failed to ingest retail listing", err.Error(), requestID),
		)
	}

	return c.JSON(models.NewSuccessResponse(result, requestID))
}
