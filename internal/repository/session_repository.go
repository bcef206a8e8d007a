package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// SessionRepository records scrape sessions: one row per scrape attempt
// that reaches the fetch stage.
type SessionRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewSessionRepository creates a new scrape session repository
func NewSessionRepository(db *pgxpool.Pool, log *logger.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: log.WithComponent("session-repo"),
	}
}

// Open creates a session row before the first fetch and returns its id.
func (r *SessionRepository) Open(ctx context.Context, source, sourceURL string) (int64, error) {
	query := `
		INSERT INTO scrape_sessions (source, source_url, status, products_found, products_stored, created_at)
		VALUES ($1, $2, $3, 0, 0, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query, source, sourceURL, models.SessionStatusFailed, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to open scrape session: %w", err)
	}

	r.logger.Debugf("Opened scrape session %d for %s", id, source)
	return id, nil
}

// Close finalizes a session with its outcome and counters.
func (r *SessionRepository) Close(ctx context.Context, sessionID int64, status string, productsFound, productsStored int) error {
	query := `
		UPDATE scrape_sessions
		SET status = $1, products_found = $2, products_stored = $3
		WHERE id = $4
	`

	_, err := r.db.Exec(ctx, query, status, productsFound, productsStored, sessionID)
	if err != nil {
		return fmt.Errorf("failed to close scrape session: %w", err)
	}

	r.logger.Debugf("Closed scrape session %d: status=%s found=%d stored=%d",
		sessionID, status, productsFound, productsStored)
	return nil
}

// GetRecent returns the newest sessions for diagnostics.
func (r *SessionRepository) GetRecent(ctx context.Context, limit int) ([]*models.ScrapeSession, error) {
	query := `
		SELECT id, source, source_url, status, products_found, products_stored, created_at
		FROM scrape_sessions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ScrapeSession
	for rows.Next() {
		s := &models.ScrapeSession{}
		if err := rows.Scan(&s.ID, &s.Source, &s.SourceURL, &s.Status,
			&s.ProductsFound, &s.ProductsStored, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
