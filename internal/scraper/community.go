package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/internal/scraper/parser"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

// CommunityScraper queries the board's unauthenticated JSON search endpoint
// for mentions of a set number.
type CommunityScraper struct {
	runner
	repo    CommunityStore
	baseURL string
}

// CommunityDeps wires the community scraper.
type CommunityDeps struct {
	Fetcher  Fetcher
	Limiter  RateLimiter
	Breaker  CircuitBreaker
	Sessions SessionStore
	Raws     RawStore
	Repo     CommunityStore
	BaseURL  string
	Logger   *logger.Logger
}

// NewCommunityScraper creates the community board scraper.
func NewCommunityScraper(deps CommunityDeps) *CommunityScraper {
	domain, _ := utils.GetDomain(deps.BaseURL)
	return &CommunityScraper{
		runner: runner{
			source:   models.SourceCommunity,
			domain:   domain,
			fetch:    deps.Fetcher,
			limiter:  deps.Limiter,
			breaker:  deps.Breaker,
			sessions: deps.Sessions,
			raws:     deps.Raws,
			logger:   deps.Logger.WithSource(models.SourceCommunity),
		},
		repo:    deps.Repo,
		baseURL: deps.BaseURL,
	}
}

// SearchURL builds the JSON search endpoint URL for a set number.
func (s *CommunityScraper) SearchURL(setNumber string) string {
	return fmt.Sprintf("%s/search.json?q=%s&sort=new&t=month&limit=100",
		s.baseURL, url.QueryEscape("lego "+setNumber))
}

// Scrape queries and upserts mention aggregates for one set number.
func (s *CommunityScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	if !setNumberPattern.MatchString(req.Identifier) {
		return nil, fmt.Errorf("%w: set number %q", ErrInvalidInput, req.Identifier)
	}
	if req.URL == "" {
		req.URL = s.SearchURL(req.Identifier)
	}

	markFailed := func(ctx context.Context) error {
		return s.repo.MarkFailed(ctx, req.Identifier)
	}

	return s.run(ctx, req, markFailed, func(ctx context.Context, sessionID int64) (*attemptOutcome, error) {
		resp, err := s.fetchAndArchive(ctx, sessionID, req, fetcher.Request{
			URL:  req.URL,
			Mode: fetcher.ModeSimple,
			Headers: map[string]string{
				"Accept": "application/json",
			},
		})
		if err != nil {
			if fetcher.IsNotFound(err) {
				next := time.Now().UTC().AddDate(0, 0, models.DefaultNotFoundRetryDays)
				if merr := s.repo.MarkNotFound(ctx, req.Identifier, next); merr != nil {
					return nil, merr
				}
				return &attemptOutcome{notFound: true}, nil
			}
			return nil, err
		}

		mention, err := parser.ParseCommunitySearch(resp.Body, req.Identifier)
		if err != nil {
			return nil, err
		}

		if err := s.repo.Upsert(ctx, mention); err != nil {
			return nil, err
		}

		return &attemptOutcome{found: 1, stored: 1}, nil
	})
}
