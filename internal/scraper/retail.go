package scraper

import (
	"context"
	"fmt"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/parser"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

// RetailIngester handles the user-triggered retail source: a pasted listing
// page plus its source URL. No fetching, rate limiting or breaker applies,
// but the paste is archived like any fetched page so parses stay replayable.
type RetailIngester struct {
	sessions SessionStore
	raws     RawStore
	repo     RetailStore
	logger   *logger.Logger
}

// NewRetailIngester creates the retail paste intake.
func NewRetailIngester(sessions SessionStore, raws RawStore, repo RetailStore, log *logger.Logger) *RetailIngester {
	return &RetailIngester{
		sessions: sessions,
		raws:     raws,
		repo:     repo,
		logger:   log.WithSource(models.SourceRetailListing),
	}
}

// Ingest parses product cards out of pasted HTML and upserts them.
func (r *RetailIngester) Ingest(ctx context.Context, pastedHTML, sourceURL string) (*Result, error) {
	if len(pastedHTML) == 0 || len(pastedHTML) > models.MaxPastedHTMLSize {
		return nil, fmt.Errorf("%w: pasted HTML size %d", ErrInvalidInput, len(pastedHTML))
	}
	if !utils.IsValidScrapeURL(sourceURL) {
		return nil, fmt.Errorf("%w: source url %q", ErrInvalidInput, sourceURL)
	}

	result := &Result{Source: models.SourceRetailListing, Identifier: sourceURL}

	sessionID, err := r.sessions.Open(ctx, models.SourceRetailListing, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	if err := r.raws.Save(ctx, &models.RawPayload{
		SessionID:   sessionID,
		Source:      models.SourceRetailListing,
		SourceURL:   sourceURL,
		Body:        []byte(pastedHTML),
		ContentType: "text/html",
		HTTPStatus:  200,
	}); err != nil {
		r.closeSession(ctx, sessionID, models.SessionStatusFailed, 0, 0)
		return nil, fmt.Errorf("archive pasted HTML: %w", err)
	}

	listings, err := parser.ParseRetailListings(pastedHTML, sourceURL)
	if err != nil {
		r.closeSession(ctx, sessionID, models.SessionStatusFailed, 0, 0)
		result.Error = err.Error()
		return result, err
	}

	batch, err := r.repo.BatchUpsert(ctx, listings)
	if err != nil {
		r.closeSession(ctx, sessionID, models.SessionStatusFailed, len(listings), 0)
		result.Error = err.Error()
		return result, err
	}

	stored := batch.Created + batch.Updated
	status := models.SessionStatusSuccess
	if stored < len(listings) && stored > 0 {
		status = models.SessionStatusPartial
	}
	r.closeSession(ctx, sessionID, status, len(listings), stored)

	result.Success = true
	result.ProductsFound = len(listings)
	result.ProductsStored = stored

	r.logger.Infof("Ingested retail paste from %s: %d listings (%d new, %d updated)",
		sourceURL, len(listings), batch.Created, batch.Updated)
	return result, nil
}

func (r *RetailIngester) closeSession(ctx context.Context, sessionID int64, status string, found, stored int) {
	if err := r.sessions.Close(ctx, sessionID, status, found, stored); err != nil {
		r.logger.WithError(err).Warnf("Failed to close scrape session %d", sessionID)
	}
}
