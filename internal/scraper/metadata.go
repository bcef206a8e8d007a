package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/internal/scraper/parser"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

var setNumberPattern = regexp.MustCompile(`^\d{3,7}(?:-\d+)?$`)

// MetadataScraper resolves a set number in two hops inside one attempt:
// the search page yields the concrete product URL, the product page yields
// the record. Both hops take their own rate-limit slot and raw archive; a
// failure of either hop costs one attempt, not two.
type MetadataScraper struct {
	runner
	repo     MetadataStore
	products ProductStore
	images   ImageDownloader
	baseURL  string
}

// MetadataDeps wires the metadata scraper.
type MetadataDeps struct {
	Fetcher  Fetcher
	Limiter  RateLimiter
	Breaker  CircuitBreaker
	Sessions SessionStore
	Raws     RawStore
	Repo     MetadataStore
	Products ProductStore
	Images   ImageDownloader
	BaseURL  string
	Logger   *logger.Logger
}

// NewMetadataScraper creates the metadata-site scraper.
func NewMetadataScraper(deps MetadataDeps) *MetadataScraper {
	domain, _ := utils.GetDomain(deps.BaseURL)
	return &MetadataScraper{
		runner: runner{
			source:   models.SourceMetadataSite,
			domain:   domain,
			fetch:    deps.Fetcher,
			limiter:  deps.Limiter,
			breaker:  deps.Breaker,
			sessions: deps.Sessions,
			raws:     deps.Raws,
			logger:   deps.Logger.WithSource(models.SourceMetadataSite),
		},
		repo:     deps.Repo,
		products: deps.Products,
		images:   deps.Images,
		baseURL:  deps.BaseURL,
	}
}

// SearchURL builds the search page URL for a set number.
func (s *MetadataScraper) SearchURL(setNumber string) string {
	return fmt.Sprintf("%s/search?query=%s", s.baseURL, url.QueryEscape(setNumber))
}

// Scrape resolves and upserts metadata for one set number.
func (s *MetadataScraper) Scrape(ctx context.Context, req Request) (*Result, error) {
	if !setNumberPattern.MatchString(req.Identifier) {
		return nil, fmt.Errorf("%w: set number %q", ErrInvalidInput, req.Identifier)
	}
	searchURL := s.SearchURL(req.Identifier)
	if req.URL == "" {
		req.URL = searchURL
	}

	markFailed := func(ctx context.Context) error {
		return s.repo.MarkFailed(ctx, req.Identifier)
	}

	return s.run(ctx, req, markFailed, func(ctx context.Context, sessionID int64) (*attemptOutcome, error) {
		searchResp, err := s.fetchAndArchive(ctx, sessionID, req, fetcher.Request{
			URL:  searchURL,
			Mode: fetcher.ModeSimple,
		})
		if err != nil {
			return nil, err
		}

		productURL, err := parser.ParseMetadataSearch(searchResp.Body, req.Identifier)
		if err != nil {
			if parser.IsSetNotFound(err) {
				return s.markNotFound(ctx, req.Identifier)
			}
			return nil, err
		}
		productURL = s.absolutize(productURL)

		productResp, err := s.fetchAndArchive(ctx, sessionID, req, fetcher.Request{
			URL:  productURL,
			Mode: fetcher.ModeSimple,
		})
		if err != nil {
			if fetcher.IsNotFound(err) {
				return s.markNotFound(ctx, req.Identifier)
			}
			return nil, err
		}

		meta, err := parser.ParseMetadataProduct(productResp.Body, productResp.FinalURL)
		if err != nil {
			return nil, err
		}

		if meta.SetNumber == "" {
			meta.SetNumber = req.Identifier
		} else if meta.SetNumber != req.Identifier {
			s.logger.Warnf("Identifier mismatch: requested %s, parsed %s", req.Identifier, meta.SetNumber)
		}

		meta.ImageStatus = s.images.Download(ctx, meta.ImageURL)

		if err := s.repo.Upsert(ctx, meta); err != nil {
			return nil, err
		}

		if perr := s.products.Upsert(ctx, &models.Product{
			SetNumber: meta.SetNumber,
			Name:      meta.Name,
		}); perr != nil {
			s.logger.WithError(perr).Warnf("Failed to register product for %s", meta.SetNumber)
		}

		return &attemptOutcome{found: 1, stored: 1}, nil
	})
}

func (s *MetadataScraper) absolutize(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return s.baseURL + "/" + strings.TrimPrefix(href, "/")
}

func (s *MetadataScraper) markNotFound(ctx context.Context, setNumber string) (*attemptOutcome, error) {
	next := time.Now().UTC().AddDate(0, 0, models.DefaultNotFoundRetryDays)
	if err := s.repo.MarkNotFound(ctx, setNumber, next); err != nil {
		return nil, err
	}
	s.logger.Infof("Set %s not found on metadata site; next check %s", setNumber, next.Format("2006-01-02"))
	return &attemptOutcome{notFound: true}, nil
}
