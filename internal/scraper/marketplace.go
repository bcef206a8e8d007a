package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/internal/scraper/parser"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

var marketplaceItemIDPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z.-]{1,31}$`)

// MarketplaceScraper scrapes catalog item pages in browser mode; the site
// fingerprints plain HTTP clients aggressively.
type MarketplaceScraper struct {
	runner
	repo     MarketplaceStore
	products ProductStore
	images   ImageDownloader
	baseURL  string
}

// MarketplaceDeps wires the marketplace scraper.
type MarketplaceDeps struct {
	Fetcher  Fetcher
	Limiter  RateLimiter
	Breaker  CircuitBreaker
	Sessions SessionStore
	Raws     RawStore
	Repo     MarketplaceStore
	Products ProductStore
	Images   ImageDownloader
	BaseURL  string
	Logger   *logger.Logger
}

// NewMarketplaceScraper creates the marketplace scraper.
func NewMarketplaceScraper(deps MarketplaceDeps) *MarketplaceScraper {
	domain, _ := utils.GetDomain(deps.BaseURL)
	return &MarketplaceScraper{
		runner: runner{
			source:   models.SourceMarketplace,
			domain:   domain,
			fetch:    deps.Fetcher,
			limiter:  deps.Limiter,
			breaker:  deps.Breaker,
			sessions: deps.Sessions,
			raws:     deps.Raws,
			logger:   deps.Logger.WithSource(models.SourceMarketplace),
		},
		repo:     deps.Repo,
		products: deps.Products,
		images:   deps.Images,
		baseURL:  deps.BaseURL,
	}
}

// ItemURL builds the catalog page URL for an item ID.
func (s *MarketplaceScraper) ItemURL(itemID, itemType string) string {
	param := "S"
	if itemType != "" {
		param = itemType
	}
	return fmt.Sprintf("%s/catalog/catalogitem.page?%s=%s", s.baseURL, param, url.QueryEscape(itemID))
}

// Scrape fetches, parses and upserts one catalog item.
func (s *MarketplaceScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	if !marketplaceItemIDPattern.MatchString(req.Identifier) {
		return nil, fmt.Errorf("%w: marketplace item id %q", ErrInvalidInput, req.Identifier)
	}
	if req.URL == "" {
		req.URL = s.ItemURL(req.Identifier, "")
	} else if !utils.IsValidScrapeURL(req.URL) {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidInput, req.URL)
	}

	markFailed := func(ctx context.Context) error {
		return s.repo.MarkFailed(ctx, req.Identifier)
	}

	return s.run(ctx, req, markFailed, func(ctx context.Context, sessionID int64) (*attemptOutcome, error) {
		resp, err := s.fetchAndArchive(ctx, sessionID, req, fetcher.Request{
			URL:  req.URL,
			Mode: fetcher.ModeBrowser,
		})
		if err != nil {
			if fetcher.IsNotFound(err) {
				// A hard 404 from a direct-fetch source means the item does
				// not exist there; park it instead of burning retries.
				return s.markNotFound(ctx, req.Identifier)
			}
			return nil, err
		}

		item, err := parser.ParseMarketplaceItem(resp.Body, resp.FinalURL)
		if err != nil {
			return nil, err
		}

		if item.ItemID == "" {
			item.ItemID = req.Identifier
		} else if item.ItemID != req.Identifier {
			// Sites occasionally normalize IDs; the parsed record wins.
			s.logger.Warnf("Identifier mismatch: requested %s, parsed %s", req.Identifier, item.ItemID)
		}

		item.ImageStatus = s.images.Download(ctx, item.ImageURL)

		if err := s.repo.Upsert(ctx, item); err != nil {
			return nil, err
		}

		if perr := s.products.Upsert(ctx, &models.Product{
			SetNumber: item.ItemID,
			ItemID:    item.ItemID,
			Name:      item.Name,
		}); perr != nil {
			s.logger.WithError(perr).Warnf("Failed to register product for %s", item.ItemID)
		}

		return &attemptOutcome{found: 1, stored: 1}, nil
	})
}

func (s *MarketplaceScraper) markNotFound(ctx context.Context, itemID string) (*attemptOutcome, error) {
	next := time.Now().UTC().AddDate(0, 0, models.DefaultNotFoundRetryDays)
	if err := s.repo.MarkNotFound(ctx, itemID, next); err != nil {
		return nil, err
	}
	return &attemptOutcome{notFound: true}, nil
}
