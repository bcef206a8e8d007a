package repository

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// RawPayloadRepository archives the exact bytes of every fetched page,
// gzip-compressed, so failed parses can be replayed post-mortem.
type RawPayloadRepository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

// NewRawPayloadRepository creates a new raw payload repository
func NewRawPayloadRepository(db *pgxpool.Pool, log *logger.Logger) *RawPayloadRepository {
	return &RawPayloadRepository{
		db:     db,
		logger: log.WithComponent("raw-payload-repo"),
	}
}

// Save compresses and inserts one payload.
func (r *RawPayloadRepository) Save(ctx context.Context, payload *models.RawPayload) error {
	compressed, err := CompressBody(payload.Body)
	if err != nil {
		return fmt.Errorf("failed to compress payload: %w", err)
	}

	query := `
		INSERT INTO raw_payloads (session_id, source, source_url, compressed_body, content_type, http_status, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		payload.SessionID,
		payload.Source,
		payload.SourceURL,
		compressed,
		payload.ContentType,
		payload.HTTPStatus,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save raw payload: %w", err)
	}

	r.logger.Debugf("Saved raw payload for session %d: %d bytes -> %d compressed",
		payload.SessionID, len(payload.Body), len(compressed))
	return nil
}

// GetBody loads and decompresses one payload body by id.
func (r *RawPayloadRepository) GetBody(ctx context.Context, id int64) ([]byte, error) {
	var compressed []byte
	err := r.db.QueryRow(ctx, `SELECT compressed_body FROM raw_payloads WHERE id = $1`, id).Scan(&compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw payload %d: %w", id, err)
	}
	return DecompressBody(compressed)
}

// CompressBody gzips a response body for storage.
func CompressBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBody reverses CompressBody.
func DecompressBody(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
