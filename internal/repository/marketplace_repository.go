package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// MarketplaceRepository owns the marketplace_items table.
type MarketplaceRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewMarketplaceRepository creates a new marketplace repository
func NewMarketplaceRepository(db *pgxpool.Pool, log *logger.Logger) *MarketplaceRepository {
	return &MarketplaceRepository{
		db:     db,
		logger: log.WithComponent("marketplace-repo"),
	}
}

// FindByKey returns the item for an item ID, or nil when absent.
func (r *MarketplaceRepository) FindByKey(ctx context.Context, itemID string) (*models.MarketplaceItem, error) {
	query := `
		SELECT item_id, item_type, name, year_released,
		       avg_price_cents, min_price_cents, max_price_cents, times_sold, volume_bucket,
		       COALESCE(image_url, ''), COALESCE(image_status, ''),
		       scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
		       created_at, updated_at
		FROM marketplace_items
		WHERE item_id = $1
	`

	item := &models.MarketplaceItem{}
	var lastScraped, nextScrape sql.NullTime

	err := r.db.QueryRow(ctx, query, itemID).Scan(
		&item.ItemID, &item.ItemType, &item.Name, &item.YearReleased,
		&item.AvgPriceCents, &item.MinPriceCents, &item.MaxPriceCents, &item.TimesSold, &item.VolumeBucket,
		&item.ImageURL, &item.ImageStatus,
		&item.ScrapeStatus, &lastScraped, &nextScrape, &item.ScrapeIntervalDays, &item.IsActive,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find marketplace item %s: %w", itemID, err)
	}

	if lastScraped.Valid {
		t := lastScraped.Time
		item.LastScrapedAt = &t
	}
	if nextScrape.Valid {
		t := nextScrape.Time
		item.NextScrapeAt = &t
	}
	return item, nil
}

// Upsert inserts or refreshes one item. Non-null incoming fields win;
// scrape tracking advances to success with the next scrape one interval out.
func (r *MarketplaceRepository) Upsert(ctx context.Context, item *models.MarketplaceItem) error {
	interval := item.ScrapeIntervalDays
	if interval <= 0 {
		interval = models.DefaultMarketplaceIntervalDays
	}

	query := `
		INSERT INTO marketplace_items (
			item_id, item_type, name, year_released,
			avg_price_cents, min_price_cents, max_price_cents, times_sold, volume_bucket,
			image_url, image_status,
			scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        'success', NOW(), NOW() + make_interval(days => $12), $12, TRUE, NOW(), NOW())
		ON CONFLICT (item_id) DO UPDATE SET
			item_type = COALESCE(NULLIF(EXCLUDED.item_type, ''), marketplace_items.item_type),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), marketplace_items.name),
			year_released = CASE WHEN EXCLUDED.year_released > 0 THEN EXCLUDED.year_released ELSE marketplace_items.year_released END,
			avg_price_cents = CASE WHEN EXCLUDED.avg_price_cents > 0 THEN EXCLUDED.avg_price_cents ELSE marketplace_items.avg_price_cents END,
			min_price_cents = CASE WHEN EXCLUDED.min_price_cents > 0 THEN EXCLUDED.min_price_cents ELSE marketplace_items.min_price_cents END,
			max_price_cents = CASE WHEN EXCLUDED.max_price_cents > 0 THEN EXCLUDED.max_price_cents ELSE marketplace_items.max_price_cents END,
			times_sold = CASE WHEN EXCLUDED.times_sold > 0 THEN EXCLUDED.times_sold ELSE marketplace_items.times_sold END,
			volume_bucket = COALESCE(NULLIF(EXCLUDED.volume_bucket, ''), marketplace_items.volume_bucket),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), marketplace_items.image_url),
			image_status = COALESCE(NULLIF(EXCLUDED.image_status, ''), marketplace_items.image_status),
			scrape_status = 'success',
			last_scraped_at = NOW(),
			next_scrape_at = NOW() + make_interval(days => $12),
			scrape_interval_days = $12,
			is_active = TRUE,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		item.ItemID, item.ItemType, item.Name, item.YearReleased,
		item.AvgPriceCents, item.MinPriceCents, item.MaxPriceCents, item.TimesSold, item.VolumeBucket,
		item.ImageURL, item.ImageStatus, interval,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert marketplace item %s: %w", item.ItemID, err)
	}

	r.logger.Debugf("Upserted marketplace item %s", item.ItemID)
	return nil
}

// MarkFailed flags a failed scrape without advancing next_scrape_at, so the
// next sweep retries the item.
func (r *MarketplaceRepository) MarkFailed(ctx context.Context, itemID string) error {
	return markFailed(ctx, r.db, "marketplace_items", "item_id", itemID)
}

// MarkNotFound parks an item the source confirmed missing until the given
// re-check time. The row persists so restarts do not re-queue it.
func (r *MarketplaceRepository) MarkNotFound(ctx context.Context, itemID string, nextScrapeAt time.Time) error {
	return markNotFound(ctx, r.db, "marketplace_items", "item_id", itemID, nextScrapeAt)
}

// FindItemsNeedingScraping returns active items due for a refresh. Rows in
// not_found with a future next_scrape_at stay excluded by the same
// next_scrape_at <= NOW() predicate.
func (r *MarketplaceRepository) FindItemsNeedingScraping(ctx context.Context) ([]models.ScrapeCandidate, error) {
	query := `
		SELECT item_id, item_type,
		       NOW() > next_scrape_at + make_interval(days => scrape_interval_days) AS overdue
		FROM marketplace_items
		WHERE next_scrape_at <= NOW() AND is_active = TRUE
		ORDER BY next_scrape_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find marketplace items needing scraping: %w", err)
	}
	defer rows.Close()

	var candidates []models.ScrapeCandidate
	for rows.Next() {
		var c models.ScrapeCandidate
		if err := rows.Scan(&c.Identifier, &c.ItemType, &c.Overdue); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// FindNewIdentifiers returns product item IDs that have no marketplace row yet.
func (r *MarketplaceRepository) FindNewIdentifiers(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.item_id
		FROM products p
		LEFT JOIN marketplace_items m ON m.item_id = p.item_id
		WHERE p.item_id <> '' AND m.item_id IS NULL
	`
	return scanIdentifiers(ctx, r.db, query, "marketplace")
}

// FindAllActive returns every active item; trigger-all sweeps use it to
// enqueue regardless of intervals.
func (r *MarketplaceRepository) FindAllActive(ctx context.Context) ([]models.ScrapeCandidate, error) {
	query := `
		SELECT item_id, item_type, FALSE AS overdue
		FROM marketplace_items
		WHERE is_active = TRUE
		ORDER BY item_id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active marketplace items: %w", err)
	}
	defer rows.Close()

	var candidates []models.ScrapeCandidate
	for rows.Next() {
		var c models.ScrapeCandidate
		if err := rows.Scan(&c.Identifier, &c.ItemType, &c.Overdue); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
