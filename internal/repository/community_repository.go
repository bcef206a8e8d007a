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

// CommunityRepository owns the community_mentions table.
type CommunityRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewCommunityRepository creates a new community repository
func NewCommunityRepository(db *pgxpool.Pool, log *logger.Logger) *CommunityRepository {
	return &CommunityRepository{
		db:     db,
		logger: log.WithComponent("community-repo"),
	}
}

// FindByKey returns the mention row for a set number, or nil when absent.
func (r *CommunityRepository) FindByKey(ctx context.Context, setNumber string) (*models.CommunityMention, error) {
	query := `
		SELECT set_number, mention_count, COALESCE(top_post_title, ''), top_post_score, window_days,
		       scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
		       created_at, updated_at
		FROM community_mentions
		WHERE set_number = $1
	`

	m := &models.CommunityMention{}
	err := r.db.QueryRow(ctx, query, setNumber).Scan(
		&m.SetNumber, &m.MentionCount, &m.TopPostTitle, &m.TopPostScore, &m.WindowDays,
		&m.ScrapeStatus, &m.LastScrapedAt, &m.NextScrapeAt,
		&m.ScrapeIntervalDays, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find community mention %s: %w", setNumber, err)
	}
	return m, nil
}

// Upsert inserts or refreshes one mention row. Mention counts are a point
// in time measurement, so incoming values always replace stored ones.
func (r *CommunityRepository) Upsert(ctx context.Context, mention *models.CommunityMention) error {
	interval := mention.ScrapeIntervalDays
	if interval <= 0 {
		interval = models.DefaultCommunityIntervalDays
	}

	query := `
		INSERT INTO community_mentions (
			set_number, mention_count, top_post_title, top_post_score, window_days,
			scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5,
		        'success', NOW(), NOW() + make_interval(days => $6), $6, TRUE, NOW(), NOW())
		ON CONFLICT (set_number) DO UPDATE SET
			mention_count = EXCLUDED.mention_count,
			top_post_title = EXCLUDED.top_post_title,
			top_post_score = EXCLUDED.top_post_score,
			window_days = EXCLUDED.window_days,
			scrape_status = 'success',
			last_scraped_at = NOW(),
			next_scrape_at = NOW() + make_interval(days => $6),
			scrape_interval_days = $6,
			is_active = TRUE,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		mention.SetNumber, mention.MentionCount, mention.TopPostTitle,
		mention.TopPostScore, mention.WindowDays, interval,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert community mention %s: %w", mention.SetNumber, err)
	}

	r.logger.Debugf("Upserted community mention %s (count=%d)", mention.SetNumber, mention.MentionCount)
	return nil
}

// MarkFailed flags a failed scrape without advancing next_scrape_at.
func (r *CommunityRepository) MarkFailed(ctx context.Context, setNumber string) error {
	return markFailed(ctx, r.db, "community_mentions", "set_number", setNumber)
}

// MarkNotFound parks a set number the board rejects outright.
func (r *CommunityRepository) MarkNotFound(ctx context.Context, setNumber string, nextScrapeAt time.Time) error {
	return markNotFound(ctx, r.db, "community_mentions", "set_number", setNumber, nextScrapeAt)
}

// FindItemsNeedingScraping returns active mention rows due for a refresh.
func (r *CommunityRepository) FindItemsNeedingScraping(ctx context.Context) ([]models.ScrapeCandidate, error) {
	query := `
		SELECT set_number,
		       NOW() > next_scrape_at + make_interval(days => scrape_interval_days) AS overdue
		FROM community_mentions
		WHERE next_scrape_at <= NOW() AND is_active = TRUE
		ORDER BY next_scrape_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find community mentions needing scraping: %w", err)
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

// FindNewIdentifiers returns product set numbers with no mention row yet.
func (r *CommunityRepository) FindNewIdentifiers(ctx context.Context) ([]string, error) {
	query := `
		SELECT p.set_number
		FROM products p
		LEFT JOIN community_mentions c ON c.set_number = p.set_number
		WHERE p.set_number <> '' AND c.set_number IS NULL
	`
	return scanIdentifiers(ctx, r.db, query, "community")
}

// FindAllActive returns every active mention row; trigger-all sweeps use it
// to enqueue regardless of intervals.
func (r *CommunityRepository) FindAllActive(ctx context.Context) ([]models.ScrapeCandidate, error) {
	query := `
		SELECT set_number, FALSE AS overdue
		FROM community_mentions
		WHERE is_active = TRUE
		ORDER BY set_number
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active community mentions: %w", err)
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
