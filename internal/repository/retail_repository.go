package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// RetailRepository owns the retail_listings table. Listings arrive only
// from user-pasted pages, so there is no scrape scheduling here.
type RetailRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewRetailRepository creates a new retail listing repository
func NewRetailRepository(db *pgxpool.Pool, log *logger.Logger) *RetailRepository {
	return &RetailRepository{
		db:     db,
		logger: log.WithComponent("retail-repo"),
	}
}

// FindByKey returns the listing for a product ID, or nil when absent.
func (r *RetailRepository) FindByKey(ctx context.Context, productID string) (*models.RetailListing, error) {
	query := `
		SELECT product_id, source_url, name, price_cents, sold_count, created_at, updated_at
		FROM retail_listings
		WHERE product_id = $1
	`

	listing := &models.RetailListing{}
	err := r.db.QueryRow(ctx, query, productID).Scan(
		&listing.ProductID, &listing.SourceURL, &listing.Name,
		&listing.PriceCents, &listing.SoldCount,
		&listing.CreatedAt, &listing.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find retail listing %s: %w", productID, err)
	}
	return listing, nil
}

// BatchUpsert writes all listings parsed from one paste.
func (r *RetailRepository) BatchUpsert(ctx context.Context, listings []*models.RetailListing) (*models.BatchResult, error) {
	if len(listings) == 0 {
		return &models.BatchResult{}, nil
	}

	query := `
		INSERT INTO retail_listings (product_id, source_url, name, price_cents, sold_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (product_id) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			name = COALESCE(NULLIF(EXCLUDED.name, ''), retail_listings.name),
			price_cents = CASE WHEN EXCLUDED.price_cents > 0 THEN EXCLUDED.price_cents ELSE retail_listings.price_cents END,
			sold_count = CASE WHEN EXCLUDED.sold_count > 0 THEN EXCLUDED.sold_count ELSE retail_listings.sold_count END,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`

	batch := &pgx.Batch{}
	for _, listing := range listings {
		batch.Queue(query,
			listing.ProductID, listing.SourceURL, listing.Name,
			listing.PriceCents, listing.SoldCount,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	outcome := &models.BatchResult{Total: len(listings)}
	for range listings {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			return outcome, fmt.Errorf("failed to batch upsert retail listings: %w", err)
		}
		if inserted {
			outcome.Created++
		} else {
			outcome.Updated++
		}
	}

	r.logger.Debugf("Batch upserted retail listings: created=%d updated=%d", outcome.Created, outcome.Updated)
	return outcome, nil
}
