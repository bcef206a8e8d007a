package scraper

import (
	"context"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
)

// The scrapers depend on narrow interfaces so tests can run the full
// orchestration against in-memory fakes; the concrete repositories and
// shared-store clients satisfy them.

// Fetcher performs one page fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

// RateLimiter spaces requests per domain.
type RateLimiter interface {
	WaitForNextRequest(ctx context.Context, domain string) error
}

// CircuitBreaker guards a source against sustained failure.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, source string) (bool, error)
	RecordSuccess(ctx context.Context, source string) error
	RecordFailure(ctx context.Context, source string) error
}

// SessionStore records scrape sessions.
type SessionStore interface {
	Open(ctx context.Context, source, sourceURL string) (int64, error)
	Close(ctx context.Context, sessionID int64, status string, productsFound, productsStored int) error
}

// RawStore archives fetched bytes.
type RawStore interface {
	Save(ctx context.Context, payload *models.RawPayload) error
}

// ImageDownloader fetches a record's image; it returns an image status
// (success, failed or skipped) and never fails the scrape.
type ImageDownloader interface {
	Download(ctx context.Context, imageURL string) string
}

// MarketplaceStore is the marketplace repository surface the scraper needs.
type MarketplaceStore interface {
	Upsert(ctx context.Context, item *models.MarketplaceItem) error
	MarkFailed(ctx context.Context, itemID string) error
	MarkNotFound(ctx context.Context, itemID string, nextScrapeAt time.Time) error
}

// MetadataStore is the metadata repository surface the scraper needs.
type MetadataStore interface {
	Upsert(ctx context.Context, meta *models.SetMetadata) error
	MarkFailed(ctx context.Context, setNumber string) error
	MarkNotFound(ctx context.Context, setNumber string, nextScrapeAt time.Time) error
}

// RetirementStore is the retirement repository surface the scraper needs.
type RetirementStore interface {
	BatchUpsert(ctx context.Context, sets []*models.RetirementSet) (*models.BatchResult, error)
	MarkAllInactiveExcept(ctx context.Context, setNumbers []string) (int64, error)
	MarkFailed(ctx context.Context, setNumber string) error
}

// CommunityStore is the community repository surface the scraper needs.
type CommunityStore interface {
	Upsert(ctx context.Context, mention *models.CommunityMention) error
	MarkFailed(ctx context.Context, setNumber string) error
	MarkNotFound(ctx context.Context, setNumber string, nextScrapeAt time.Time) error
}

// RetailStore is the retail repository surface the paste intake needs.
type RetailStore interface {
	BatchUpsert(ctx context.Context, listings []*models.RetailListing) (*models.BatchResult, error)
}

// ProductStore registers identifiers in the cross-source product table.
type ProductStore interface {
	Upsert(ctx context.Context, product *models.Product) error
}
