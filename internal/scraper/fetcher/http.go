package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/utils"
)

// SimpleFetcher performs plain HTTP GETs with rotated browser headers.
type SimpleFetcher struct {
	client   *http.Client
	rotator  *utils.UserAgentRotator
	robots   *utils.RobotsChecker
	logger   *logger.Logger
	timeout  time.Duration
	maxBody  int64
	checkRob bool
}

// SimpleConfig holds simple-fetcher settings.
type SimpleConfig struct {
	Timeout        time.Duration
	UserAgent      string
	CheckRobotsTxt bool
	MaxBodyBytes   int64
}

// NewSimpleFetcher creates a plain-HTTP fetcher.
func NewSimpleFetcher(cfg SimpleConfig, log *logger.Logger) *SimpleFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	return &SimpleFetcher{
		client: &http.Client{
			// Per-request deadline comes from the context; redirects are
			// followed by default.
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rotator:  utils.NewUserAgentRotator(true),
		robots:   utils.NewRobotsChecker(cfg.UserAgent),
		logger:   log.WithComponent("http-fetcher"),
		timeout:  cfg.Timeout,
		maxBody:  cfg.MaxBodyBytes,
		checkRob: cfg.CheckRobotsTxt,
	}
}

// Fetch performs one GET and returns body bytes, status and the final URL
// after redirects. Statuses below 200 or from 400 up return both the
// response and an *HTTPError so callers can distinguish 404 from server
// errors; 3xx statuses that were not followed are returned without error.
func (f *SimpleFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if f.checkRob {
		allowed, err := f.robots.IsAllowed(req.URL)
		if err == nil && !allowed {
			return nil, fmt.Errorf("%w: %s", ErrRobotsDisallowed, req.URL)
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request for %s: %w", req.URL, err)
	}

	for k, v := range f.rotator.GetRandomHeaders() {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, req.URL)
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, req.URL)
		}
		return nil, fmt.Errorf("%w: reading body: %v", ErrNetwork, err)
	}

	result := &Response{
		Body:        body,
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}

	f.logger.Debugf("GET %s -> %d (%d bytes, %v)", req.URL, resp.StatusCode, len(body), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return result, &HTTPError{Status: resp.StatusCode, URL: req.URL}
	}
	return result, nil
}
