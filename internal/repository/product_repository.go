package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// ProductRepository owns the cross-source products table. Source scrapers
// register identifiers here; per-source repositories join against it to
// discover items they have no record for yet.
type ProductRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *pgxpool.Pool, log *logger.Logger) *ProductRepository {
	return &ProductRepository{
		db:     db,
		logger: log.WithComponent("product-repo"),
	}
}

// Upsert registers a product; later writes fill in missing cross-links.
func (r *ProductRepository) Upsert(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (set_number, item_id, name, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (set_number) DO UPDATE SET
			item_id = COALESCE(NULLIF(EXCLUDED.item_id, ''), products.item_id),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), products.name)
	`

	if _, err := r.db.Exec(ctx, query, product.SetNumber, product.ItemID, product.Name); err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.SetNumber, err)
	}
	return nil
}

// Count returns the number of known products.
func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}
