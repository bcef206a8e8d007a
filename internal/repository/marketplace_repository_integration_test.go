package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// newMarketplaceTestRepo runs the repository against a real database when
// TEST_DATABASE_URL is set. The pool is pinned to one connection and the
// table created TEMP, so the repository's fixed table name resolves to the
// test's schema and nothing persists.
func newMarketplaceTestRepo(t *testing.T) (*MarketplaceRepository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping repository integration test")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `
		CREATE TEMP TABLE marketplace_items (
			item_id TEXT PRIMARY KEY,
			item_type TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			year_released INT NOT NULL DEFAULT 0,
			avg_price_cents BIGINT NOT NULL DEFAULT 0,
			min_price_cents BIGINT NOT NULL DEFAULT 0,
			max_price_cents BIGINT NOT NULL DEFAULT 0,
			times_sold INT NOT NULL DEFAULT 0,
			volume_bucket TEXT NOT NULL DEFAULT '',
			image_url TEXT,
			image_status TEXT,
			scrape_status TEXT NOT NULL DEFAULT 'pending',
			last_scraped_at TIMESTAMPTZ,
			next_scrape_at TIMESTAMPTZ,
			scrape_interval_days INT NOT NULL DEFAULT 7,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	require.NoError(t, err)

	log := logger.New(logger.Config{Level: "error"})
	return NewMarketplaceRepository(pool, log), pool
}

func needingScrapingIDs(t *testing.T, repo *MarketplaceRepository) []string {
	t.Helper()
	candidates, err := repo.FindItemsNeedingScraping(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Identifier)
	}
	return ids
}

// A first scrape that exhausts all retries before any row exists must still
// leave a row the next sweep re-selects; otherwise the identifier is
// orphaned until a manual reset.
func TestMarkFailedOnUnknownKeyStaysSweepable(t *testing.T) {
	repo, _ := newMarketplaceTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.MarkFailed(ctx, "75399-1"))

	item, err := repo.FindByKey(ctx, "75399-1")
	require.NoError(t, err)
	require.NotNil(t, item, "MarkFailed on an unknown key must create a stub row")
	require.Equal(t, models.ScrapeStatusFailed, item.ScrapeStatus)
	require.NotNil(t, item.NextScrapeAt)
	require.False(t, item.NextScrapeAt.After(time.Now()), "stub must be due immediately")

	require.Contains(t, needingScrapingIDs(t, repo), "75399-1")
}

// MarkFailed on an existing due row keeps next_scrape_at where it was, so
// the item stays in the sweep.
func TestMarkFailedOnExistingRowStaysSweepable(t *testing.T) {
	repo, pool := newMarketplaceTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.MarketplaceItem{
		ItemID: "10179-1",
		Name:   "Ultimate Falcon",
	}))

	// Simulate the refresh cadence having elapsed
	_, err := pool.Exec(ctx,
		`UPDATE marketplace_items SET next_scrape_at = NOW() - INTERVAL '1 day' WHERE item_id = $1`,
		"10179-1")
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, "10179-1"))
	require.Contains(t, needingScrapingIDs(t, repo), "10179-1")
}

// Not-found rows with a future horizon stay out of the sweep entirely.
func TestMarkNotFoundExcludedFromSweep(t *testing.T) {
	repo, _ := newMarketplaceTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.MarkNotFound(ctx, "99999-9", time.Now().UTC().AddDate(0, 0, 90)))
	require.NotContains(t, needingScrapingIDs(t, repo), "99999-9")
}
