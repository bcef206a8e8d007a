package scraper

import (
	"context"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/internal/scraper/parser"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

// RetirementScraper refreshes the whole retirement tracker from its single
// page: every theme arrives in one fetch, lands as one batch upsert, and
// sets missing from the page are swept inactive.
type RetirementScraper struct {
	runner
	repo RetirementStore
	url  string
}

// RetirementDeps wires the retirement scraper.
type RetirementDeps struct {
	Fetcher  Fetcher
	Limiter  RateLimiter
	Breaker  CircuitBreaker
	Sessions SessionStore
	Raws     RawStore
	Repo     RetirementStore
	URL      string
	Logger   *logger.Logger
}

// NewRetirementScraper creates the retirement tracker scraper.
func NewRetirementScraper(deps RetirementDeps) *RetirementScraper {
	domain, _ := utils.GetDomain(deps.URL)
	return &RetirementScraper{
		runner: runner{
			source:   models.SourceRetirementTracker,
			domain:   domain,
			fetch:    deps.Fetcher,
			limiter:  deps.Limiter,
			breaker:  deps.Breaker,
			sessions: deps.Sessions,
			raws:     deps.Raws,
			logger:   deps.Logger.WithSource(models.SourceRetirementTracker),
		},
		repo: deps.Repo,
		url:  deps.URL,
	}
}

// Scrape fetches the tracker page and refreshes every tracked set.
func (s *RetirementScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	req.URL = s.url

	// The page covers all sets at once; there is no single record to flag
	// on exhaustion, so no markFailed hook.
	return s.run(ctx, req, nil, func(ctx context.Context, sessionID int64) (*attemptOutcome, error) {
		resp, err := s.fetchAndArchive(ctx, sessionID, req, fetcher.Request{
			URL:  s.url,
			Mode: fetcher.ModeBrowser,
		})
		if err != nil {
			return nil, err
		}

		sets, err := parser.ParseRetirementSets(resp.Body, resp.FinalURL)
		if err != nil {
			return nil, err
		}

		batch, err := s.repo.BatchUpsert(ctx, sets)
		if err != nil {
			return nil, err
		}

		keys := make([]string, 0, len(sets))
		for _, set := range sets {
			keys = append(keys, set.SetNumber)
		}
		if _, err := s.repo.MarkAllInactiveExcept(ctx, keys); err != nil {
			s.logger.WithError(err).Warn("Failed to sweep vanished retirement sets inactive")
		}

		stored := batch.Created + batch.Updated
		return &attemptOutcome{
			found:   len(sets),
			stored:  stored,
			partial: stored < len(sets) && stored > 0,
		}, nil
	})
}
