package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// RetirementRepository owns the retirement_sets table. The tracker page
// yields every theme in one fetch, so writes arrive as whole batches.
type RetirementRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewRetirementRepository creates a new retirement repository
func NewRetirementRepository(db *pgxpool.Pool, log *logger.Logger) *RetirementRepository {
	return &RetirementRepository{
		db:     db,
		logger: log.WithComponent("retirement-repo"),
	}
}

// FindByKey returns the set for a set number, or nil when absent.
func (r *RetirementRepository) FindByKey(ctx context.Context, setNumber string) (*models.RetirementSet, error) {
	query := `
		SELECT set_number, name, theme, retail_price_cents, expected_retirement, retired_at,
		       scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
		       created_at, updated_at
		FROM retirement_sets
		WHERE set_number = $1
	`

	set := &models.RetirementSet{}
	err := r.db.QueryRow(ctx, query, setNumber).Scan(
		&set.SetNumber, &set.Name, &set.Theme, &set.RetailPriceCents,
		&set.ExpectedRetire, &set.RetiredAt,
		&set.ScrapeStatus, &set.LastScrapedAt, &set.NextScrapeAt,
		&set.ScrapeIntervalDays, &set.IsActive,
		&set.CreatedAt, &set.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find retirement set %s: %w", setNumber, err)
	}
	return set, nil
}

// BatchUpsert writes a whole tracker page in one pgx batch and reports how
// many rows were created versus refreshed.
func (r *RetirementRepository) BatchUpsert(ctx context.Context, sets []*models.RetirementSet) (*models.BatchResult, error) {
	if len(sets) == 0 {
		return &models.BatchResult{}, nil
	}

	query := `
		INSERT INTO retirement_sets (
			set_number, name, theme, retail_price_cents, expected_retirement, retired_at,
			scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6,
		        'success', NOW(), NOW() + make_interval(days => $7), $7, TRUE, NOW(), NOW())
		ON CONFLICT (set_number) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), retirement_sets.name),
			theme = COALESCE(NULLIF(EXCLUDED.theme, ''), retirement_sets.theme),
			retail_price_cents = CASE WHEN EXCLUDED.retail_price_cents > 0 THEN EXCLUDED.retail_price_cents ELSE retirement_sets.retail_price_cents END,
			expected_retirement = COALESCE(EXCLUDED.expected_retirement, retirement_sets.expected_retirement),
			retired_at = COALESCE(EXCLUDED.retired_at, retirement_sets.retired_at),
			scrape_status = 'success',
			last_scraped_at = NOW(),
			next_scrape_at = NOW() + make_interval(days => $7),
			scrape_interval_days = $7,
			is_active = TRUE,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	batch := &pgx.Batch{}
	for _, set := range sets {
		interval := set.ScrapeIntervalDays
		if interval <= 0 {
			interval = models.DefaultRetirementIntervalDays
		}
		batch.Queue(query,
			set.SetNumber, set.Name, set.Theme, set.RetailPriceCents,
			set.ExpectedRetire, set.RetiredAt, interval,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	outcome := &models.BatchResult{Total: len(sets)}
	for range sets {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			return outcome, fmt.Errorf("failed to batch upsert retirement sets: %w", err)
		}
		if inserted {
			outcome.Created++
		} else {
			outcome.Updated++
		}
	}

	r.logger.Debugf("Batch upserted retirement sets: created=%d updated=%d", outcome.Created, outcome.Updated)
	return outcome, nil
}

// MarkAllInactiveExcept deactivates sets that vanished from the tracker
// page; they stop appearing in sweeps but keep their history.
func (r *RetirementRepository) MarkAllInactiveExcept(ctx context.Context, setNumbers []string) (int64, error) {
	query := `
		UPDATE retirement_sets
		SET is_active = FALSE, updated_at = NOW()
		WHERE is_active = TRUE AND NOT (set_number = ANY($1))
	`

	tag, err := r.db.Exec(ctx, query, setNumbers)
	if err != nil {
		return 0, fmt.Errorf("failed to mark retirement sets inactive: %w", err)
	}

	if tag.RowsAffected() > 0 {
		r.logger.Infof("Marked %d retirement sets inactive", tag.RowsAffected())
	}
	return tag.RowsAffected(), nil
}

// MarkFailed flags a failed scrape without advancing next_scrape_at.
func (r *RetirementRepository) MarkFailed(ctx context.Context, setNumber string) error {
	return markFailed(ctx, r.db, "retirement_sets", "set_number", setNumber)
}

// MarkNotFound parks a set the tracker no longer lists.
func (r *RetirementRepository) MarkNotFound(ctx context.Context, setNumber string, nextScrapeAt time.Time) error {
	return markNotFound(ctx, r.db, "retirement_sets", "set_number", setNumber, nextScrapeAt)
}

// NeedsScraping reports whether the tracker page itself is due. The page is
// one URL for all sets, so the sweep enqueues at most one job: due when no
// active row exists yet or the earliest next_scrape_at has passed.
func (r *RetirementRepository) NeedsScraping(ctx context.Context) (bool, error) {
	query := `
		SELECT COUNT(*) = 0 OR MIN(next_scrape_at) <= NOW()
		FROM retirement_sets
		WHERE is_active = TRUE
	`

	var due bool
	if err := r.db.QueryRow(ctx, query).Scan(&due); err != nil {
		return false, fmt.Errorf("failed to check retirement tracker due state: %w", err)
	}
	return due, nil
}

// FindItemsNeedingScraping adapts the single-page cadence to the sweep
// contract: one synthetic candidate when the page is due.
func (r *RetirementRepository) FindItemsNeedingScraping(ctx context.Context) ([]models.ScrapeCandidate, error) {
	due, err := r.NeedsScraping(ctx)
	if err != nil {
		return nil, err
	}
	if !due {
		return nil, nil
	}
	return []models.ScrapeCandidate{{Identifier: "all-themes"}}, nil
}

// FindNewIdentifiers always returns nothing: product set numbers absent from
// the tracker table ride along on the next page scrape, so none enqueue jobs.
func (r *RetirementRepository) FindNewIdentifiers(ctx context.Context) ([]string, error) {
	return nil, nil
}

// FindAllActive adapts the single-page source to the trigger-all contract:
// always one synthetic candidate.
func (r *RetirementRepository) FindAllActive(ctx context.Context) ([]models.ScrapeCandidate, error) {
	return []models.ScrapeCandidate{{Identifier: "all-themes"}}, nil
}
