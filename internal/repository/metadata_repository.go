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

// MetadataRepository owns the set_metadata table.
type MetadataRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewMetadataRepository creates a new metadata repository
func NewMetadataRepository(db *pgxpool.Pool, log *logger.Logger) *MetadataRepository {
	return &MetadataRepository{
		db:     db,
		logger: log.WithComponent("metadata-repo"),
	}
}

// FindByKey returns the metadata row for a set number, or nil when absent.
func (r *MetadataRepository) FindByKey(ctx context.Context, setNumber string) (*models.SetMetadata, error) {
	query := `
		SELECT set_number, name, theme, subtheme, year, pieces, minifigs, rrp_cents,
		       COALESCE(product_url, ''), COALESCE(image_url, ''), COALESCE(image_status, ''),
		       scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
		       created_at, updated_at
		FROM set_metadata
		WHERE set_number = $1
	`

	meta := &models.SetMetadata{}
	err := r.db.QueryRow(ctx, query, setNumber).Scan(
		&meta.SetNumber, &meta.Name, &meta.Theme, &meta.Subtheme,
		&meta.Year, &meta.Pieces, &meta.Minifigs, &meta.RRPCents,
		&meta.ProductURL, &meta.ImageURL, &meta.ImageStatus,
		&meta.ScrapeStatus, &meta.LastScrapedAt, &meta.NextScrapeAt,
		&meta.ScrapeIntervalDays, &meta.IsActive,
		&meta.CreatedAt, &meta.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find set metadata %s: %w", setNumber, err)
	}
	return meta, nil
}

// Upsert inserts or refreshes one metadata row; non-null fields win.
func (r *MetadataRepository) Upsert(ctx context.Context, meta *models.SetMetadata) error {
	interval := meta.ScrapeIntervalDays
	if interval <= 0 {
		interval = models.DefaultMetadataIntervalDays
	}

	query := `
		INSERT INTO set_metadata (
			set_number, name, theme, subtheme, year, pieces, minifigs, rrp_cents,
			product_url, image_url, image_status,
			scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        'success', NOW(), NOW() + make_interval(days => $12), $12, TRUE, NOW(), NOW())
		ON CONFLICT (set_number) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), set_metadata.name),
			theme = COALESCE(NULLIF(EXCLUDED.theme, ''), set_metadata.theme),
			subtheme = COALESCE(NULLIF(EXCLUDED.subtheme, ''), set_metadata.subtheme),
			year = CASE WHEN EXCLUDED.year > 0 THEN EXCLUDED.year ELSE set_metadata.year END,
			pieces = CASE WHEN EXCLUDED.pieces > 0 THEN EXCLUDED.pieces ELSE set_metadata.pieces END,
			minifigs = CASE WHEN EXCLUDED.minifigs > 0 THEN EXCLUDED.minifigs ELSE set_metadata.minifigs END,
			rrp_cents = CASE WHEN EXCLUDED.rrp_cents > 0 THEN EXCLUDED.rrp_cents ELSE set_metadata.rrp_cents END,
			product_url = COALESCE(NULLIF(EXCLUDED.product_url, ''), set_metadata.product_url),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), set_metadata.image_url),
			image_status = COALESCE(NULLIF(EXCLUDED.image_status, ''), set_metadata.image_status),
			scrape_status = 'success',
			last_scraped_at = NOW(),
			next_scrape_at = NOW() + make_interval(days => $12),
			scrape_interval_days = $12,
			is_active = TRUE,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		meta.SetNumber, meta.Name, meta.Theme, meta.Subtheme,
		meta.Year, meta.Pieces, meta.Minifigs, meta.RRPCents,
		meta.ProductURL, meta.ImageURL, meta.ImageStatus, interval,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert set metadata %s: %w", meta.SetNumber, err)
	}

	r.logger.Debugf("Upserted set metadata %s", meta.SetNumber)
	return nil
}

// MarkFailed flags a failed scrape without advancing next_scrape_at.
func (r *MetadataRepository) MarkFailed(ctx context.Context, setNumber string) error {
	return markFailed(ctx, r.db, "set_metadata", "set_number", setNumber)
}

// MarkNotFound parks a set the metadata site has never heard of. The row
// must persist: without it every sweep would re-queue the missing set.
func (r *MetadataRepository) MarkNotFound(ctx context.Context, setNumber string, nextScrapeAt time.Time) error {
	return markNotFound(ctx, r.db, "set_metadata", "set_number", setNumber, nextScrapeAt)
}

// FindItemsNeedingScraping returns active sets due for a refresh.
func (r *MetadataRepository) FindItemsNeedingScraping(ctx context.Context) ([]models.ScrapeCandidate, error) {
	query := `
		SELECT set_number,
		       NOW() > next_scrape_at + make_interval(days => scrape_interval_days) AS overdue
		FROM set_metadata
		WHERE next_scrape_at <= NOW() AND is_active = TRUE
		ORDER BY next_scrape_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find metadata sets needing scraping: %w", err)
	}
	defer rows.Close()

	var candidates []models.ScrapeCandidate
	for rows.Next() {
		var c models.ScrapeCandidate
		if err := rows.Scan(&c.Identifier, &c.Overdue); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// FindNewIdentifiers returns product set numbers with no metadata row yet.
func (r *MetadataRepository) FindNewIdentifiers(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.set_number
		FROM products p
		LEFT JOIN set_metadata m ON m.set_number = p.set_number
		WHERE p.set_number <> '' AND m.set_number IS NULL
	`
	return scanIdentifiers(ctx, r.db, query, "metadata")
}

// FindAllActive returns every active set; trigger-all sweeps use it to
// enqueue regardless of intervals.
func (r *MetadataRepository) FindAllActive(ctx context.Context) ([]models.ScrapeCandidate, error) {
	query := `
		SELECT set_number, FALSE AS overdue
		FROM set_metadata
		WHERE is_active = TRUE
		ORDER BY set_number
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active metadata sets: %w", err)
	}
	defer rows.Close()

	var candidates []models.ScrapeCandidate
	for rows.Next() {
		var c models.ScrapeCandidate
		if err := rows.Scan(&c.Identifier, &c.Overdue); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
