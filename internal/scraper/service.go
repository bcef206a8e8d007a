package scraper

import (
	"context"
	"errors"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/pkg/config"
	"github.com/wilson/brickwatch/pkg/logger"
)

// Service assembles the per-source scrapers and exposes them as queue
// handlers keyed by job name.
type Service struct {
	Marketplace *MarketplaceScraper
	Retirement  *RetirementScraper
	Metadata    *MetadataScraper
	Community   *CommunityScraper
	Retail      *RetailIngester

	browser *fetcher.BrowserFetcher
	logger  *logger.Logger
}

// Stores groups the repository surfaces the scrapers write to.
type Stores struct {
	Sessions    SessionStore
	Raws        RawStore
	Marketplace MarketplaceStore
	Retirement  RetirementStore
	Metadata    MetadataStore
	Community   CommunityStore
	Retail      RetailStore
	Products    ProductStore
}

// NewService builds all source scrapers against the shared infrastructure.
func NewService(cfg *config.ScraperConfig, limiter RateLimiter, brk CircuitBreaker, stores Stores, log *logger.Logger) *Service {
	simple := fetcher.NewSimpleFetcher(fetcher.SimpleConfig{
		Timeout:        cfg.GetTimeout(),
		UserAgent:      cfg.UserAgent,
		CheckRobotsTxt: cfg.EnableRobotsTxtCheck,
	}, log)

	var browserFetcher *fetcher.BrowserFetcher
	var pageFetcher Fetcher = simple
	if cfg.EnableBrowserScraping {
		browserFetcher = fetcher.NewBrowserFetcher(fetcher.BrowserConfig{
			Timeout:       cfg.BrowserTimeout,
			WaitAfterLoad: cfg.BrowserWaitAfterLoad,
		}, log)
		pageFetcher = browserFetcher
	}

	images := NewDownloader(cfg.EnableImageDownload, log)

	return &Service{
		Marketplace: NewMarketplaceScraper(MarketplaceDeps{
			Fetcher:  pageFetcher,
			Limiter:  limiter,
			Breaker:  brk,
			Sessions: stores.Sessions,
			Raws:     stores.Raws,
			Repo:     stores.Marketplace,
			Products: stores.Products,
			Images:   images,
			BaseURL:  cfg.MarketplaceBaseURL,
			Logger:   log,
		}),
		Retirement: NewRetirementScraper(RetirementDeps{
			Fetcher:  pageFetcher,
			Limiter:  limiter,
			Breaker:  brk,
			Sessions: stores.Sessions,
			Raws:     stores.Raws,
			Repo:     stores.Retirement,
			URL:      cfg.RetirementURL,
			Logger:   log,
		}),
		Metadata: NewMetadataScraper(MetadataDeps{
			Fetcher:  simple,
			Limiter:  limiter,
			Breaker:  brk,
			Sessions: stores.Sessions,
			Raws:     stores.Raws,
			Repo:     stores.Metadata,
			Products: stores.Products,
			Images:   images,
			BaseURL:  cfg.MetadataBaseURL,
			Logger:   log,
		}),
		Community: NewCommunityScraper(CommunityDeps{
			Fetcher:  simple,
			Limiter:  limiter,
			Breaker:  brk,
			Sessions: stores.Sessions,
			Raws:     stores.Raws,
			Repo:     stores.Community,
			BaseURL:  cfg.CommunityBaseURL,
			Logger:   log,
		}),
		Retail:  NewRetailIngester(stores.Sessions, stores.Raws, stores.Retail, log),
		browser: browserFetcher,
		logger:  log.WithComponent("scraper-service"),
	}
}

// sourceScraper is the capability every queued source shares.
type sourceScraper interface {
	Scrape(ctx context.Context, req Request) (*Result, error)
}

// Handlers returns the queue dispatch table: job name -> handler.
func (s *Service) Handlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		models.JobScrapeMarketplace: s.handlerFor(s.Marketplace),
		models.JobScrapeRetirement:  s.handlerFor(s.Retirement),
		models.JobScrapeMetadata:    s.handlerFor(s.Metadata),
		models.JobScrapeCommunity:   s.handlerFor(s.Community),
	}
}

// handlerFor adapts a source scraper to the queue contract. Terminal
// outcomes (open circuit, invalid input) skip queue-level retries.
func (s *Service) handlerFor(scr sourceScraper) queue.Handler {
	return func(ctx context.Context, job *models.Job) (interface{}, error) {
		result, err := scr.Scrape(ctx, Request{
			Identifier:  job.Data.Identifier,
			URL:         job.Data.URL,
			SaveToDB:    true,
			SkipBreaker: job.Data.Force,
			Attempt:     job.AttemptsMade,
			MaxAttempts: job.MaxAttempts,
		})
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrInvalidInput) {
				return nil, queue.Terminal(err)
			}
			return nil, err
		}
		return result, nil
	}
}

// Close releases scraper resources (the shared browser).
func (s *Service) Close() {
	if s.browser != nil {
		s.browser.Close()
	}
}
