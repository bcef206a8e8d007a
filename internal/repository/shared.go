package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
)

// markFailed and markNotFound implement the scrape-status transitions every
// source table shares. The table and key column names are compile-time
// constants at every call site, never user input.

func markFailed(ctx context.Context, db *pgxpool.Pool, table, keyCol, key string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET scrape_status = 'failed', updated_at = NOW()
		WHERE %s = $1
	`, table, keyCol)

	tag, err := db.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s failed: %w", table, key, err)
	}
	if tag.RowsAffected() == 0 {
		// First scrape of a brand-new identifier failed before any row
		// existed; create a stub with next_scrape_at already due so the
		// next sweep re-selects it.
		insert := fmt.Sprintf(`
			INSERT INTO %s (%s, scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active, created_at, updated_at)
			VALUES ($1, 'failed', NOW(), NOW(), 7, TRUE, NOW(), NOW())
			ON CONFLICT (%s) DO NOTHING
		`, table, keyCol, keyCol)
		if _, err := db.Exec(ctx, insert, key); err != nil {
			return fmt.Errorf("failed to insert failed stub for %s %s: %w", table, key, err)
		}
	}
	return nil
}

func markNotFound(ctx context.Context, db *pgxpool.Pool, table, keyCol, key string, nextScrapeAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, scrape_status, last_scraped_at, next_scrape_at, scrape_interval_days, is_active, created_at, updated_at)
		VALUES ($1, 'not_found', NOW(), $2, $3, TRUE, NOW(), NOW())
		ON CONFLICT (%s) DO UPDATE SET
			scrape_status = 'not_found',
			last_scraped_at = NOW(),
			next_scrape_at = $2,
			scrape_interval_days = $3,
			updated_at = NOW()
	`, table, keyCol, keyCol)

	if _, err := db.Exec(ctx, query, key, nextScrapeAt.UTC(), models.DefaultNotFoundRetryDays); err != nil {
		return fmt.Errorf("failed to mark %s %s not found: %w", table, key, err)
	}
	return nil
}

func scanIdentifiers(ctx context.Context, db *pgxpool.Pool, query, source string) ([]string, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find new %s identifiers: %w", source, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
