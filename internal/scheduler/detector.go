package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/pkg/logger"
)

// Detector closes the data loop: cross-table queries find products whose
// dependent records are absent or incomplete, and each gap becomes a
// HIGH-priority fill job. Gaps that already have a (stale but present)
// record re-check at MEDIUM instead.
type Detector struct {
	db     *pgxpool.Pool
	queue  JobQueue
	logger *logger.Logger

	interval time.Duration
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewDetector creates a missing-data detector.
func NewDetector(db *pgxpool.Pool, q JobQueue, interval time.Duration, log *logger.Logger) *Detector {
	return &Detector{
		db:       db,
		queue:    q,
		logger:   log.WithComponent("missing-data-detector"),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Detect runs all gap queries and enqueues fill jobs.
func (d *Detector) Detect(ctx context.Context) (*models.DetectionResult, error) {
	result := &models.DetectionResult{}

	// Products with a set number but no metadata row
	missingMeta, err := d.queryIdentifiers(ctx, `
		SELECT p.set_number
		FROM products p
		LEFT JOIN set_metadata m ON m.set_number = p.set_number
		WHERE p.set_number <> '' AND m.set_number IS NULL
	`)
	if err != nil {
		return result, fmt.Errorf("missing-metadata query failed: %w", err)
	}
	result.MissingMetadata = len(missingMeta)
	for _, id := range missingMeta {
		if d.enqueue(ctx, models.JobScrapeMetadata, id, models.PriorityHigh) {
			result.JobsEnqueued++
		}
	}

	// Metadata rows present but incomplete re-check at MEDIUM
	staleMeta, err := d.queryIdentifiers(ctx, `
		SELECT set_number
		FROM set_metadata
		WHERE scrape_status = 'success' AND (pieces = 0 OR theme = '')
	`)
	if err != nil {
		return result, fmt.Errorf("incomplete-metadata query failed: %w", err)
	}
	for _, id := range staleMeta {
		if d.enqueue(ctx, models.JobScrapeMetadata, id, models.PriorityMedium) {
			result.JobsEnqueued++
		}
	}

	// Marketplace rows that never picked up sale volume
	missingVolume, err := d.queryIdentifiers(ctx, `
		SELECT item_id
		FROM marketplace_items
		WHERE is_active = TRUE AND scrape_status = 'success'
		  AND (volume_bucket = '' OR volume_bucket IS NULL)
	`)
	if err != nil {
		return result, fmt.Errorf("missing-volume query failed: %w", err)
	}
	result.MissingVolume = len(missingVolume)
	for _, id := range missingVolume {
		if d.enqueue(ctx, models.JobScrapeMarketplace, id, models.PriorityHigh) {
			result.JobsEnqueued++
		}
	}

	// Products the retirement tracker has never covered; one page scrape
	// refreshes them all.
	var missingRetirement int
	err = d.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM products p
		LEFT JOIN retirement_sets r ON r.set_number = p.set_number
		WHERE p.set_number <> '' AND r.set_number IS NULL
	`).Scan(&missingRetirement)
	if err != nil {
		return result, fmt.Errorf("missing-retirement query failed: %w", err)
	}
	result.MissingRetirement = missingRetirement
	if missingRetirement > 0 {
		if d.enqueue(ctx, models.JobScrapeRetirement, "all-themes", models.PriorityHigh) {
			result.JobsEnqueued++
		}
	}

	d.logger.Infof("Missing-data detection: metadata=%d volume=%d retirement=%d jobs=%d",
		result.MissingMetadata, result.MissingVolume, result.MissingRetirement, result.JobsEnqueued)
	return result, nil
}

func (d *Detector) queryIdentifiers(ctx context.Context, query string) ([]string, error) {
	rows, err := d.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Detector) enqueue(ctx context.Context, jobName, identifier string, priority models.JobPriority) bool {
	jobID, err := d.queue.Enqueue(ctx, jobName, models.JobData{Identifier: identifier}, queue.EnqueueOptions{
		Priority: priority,
	})
	if err != nil {
		d.logger.WithError(err).Warnf("Failed to enqueue fill job %s for %s", jobName, identifier)
		return false
	}
	return jobID != ""
}

// Start begins periodic detection.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.logger.Warn("Detector already running")
		return
	}
	d.running = true
	d.ticker = time.NewTicker(d.interval)
	d.mu.Unlock()

	d.logger.Infof("Starting missing-data detector with interval: %v", d.interval)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ticker.C:
				if _, err := d.Detect(ctx); err != nil {
					d.logger.WithError(err).Error("Scheduled detection failed")
				}
			case <-d.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the detection loop.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	close(d.stopChan)
	if d.ticker != nil {
		d.ticker.Stop()
	}
	d.wg.Wait()
	d.running = false
	d.logger.Info("Missing-data detector stopped")
}
