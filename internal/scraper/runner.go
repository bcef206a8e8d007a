package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/pkg/logger"
)

// Request describes one scrape invocation. Attempt numbers come from the
// queue: each claim of a job is one attempt, and the queue's delayed state
// provides the backoff sleep between attempts.
type Request struct {
	Identifier    string
	URL           string
	SaveToDB      bool
	SkipRateLimit bool
	// SkipBreaker bypasses the circuit check (control-plane force scrape).
	SkipBreaker bool
	Attempt     int
	MaxAttempts int
}

// lastAttempt reports whether a failure now exhausts the job.
func (r Request) lastAttempt() bool {
	return r.Attempt >= r.MaxAttempts && r.MaxAttempts > 0
}

// Result is the outcome higher layers see; all low-level errors have been
// classified by the time it is built.
type Result struct {
	Source         string `json:"source"`
	Identifier     string `json:"identifier"`
	Success        bool   `json:"success"`
	NotFound       bool   `json:"not_found,omitempty"`
	Retries        int    `json:"retries"`
	Error          string `json:"error,omitempty"`
	ProductsFound  int    `json:"products_found"`
	ProductsStored int    `json:"products_stored"`
	DurationMs     int64  `json:"duration_ms"`
}

// attemptOutcome is what one source-specific attempt reports back.
type attemptOutcome struct {
	found    int
	stored   int
	notFound bool
	partial  bool
}

// runner carries the orchestration every source scraper shares: circuit
// gate, session bookkeeping, rate-limited fetching with raw archival, and
// breaker accounting on the final attempt.
type runner struct {
	source   string
	domain   string
	fetch    Fetcher
	limiter  RateLimiter
	breaker  CircuitBreaker
	sessions SessionStore
	raws     RawStore
	logger   *logger.Logger
}

// run executes one attempt of a scrape. markFailed is invoked when this
// attempt exhausts the job, so the repository reflects the failure.
func (r *runner) run(ctx context.Context, req Request, markFailed func(context.Context) error,
	attempt func(ctx context.Context, sessionID int64) (*attemptOutcome, error)) (*Result, error) {

	start := time.Now()
	result := &Result{
		Source:     r.source,
		Identifier: req.Identifier,
		Retries:    req.Attempt - 1,
	}
	if result.Retries < 0 {
		result.Retries = 0
	}

	// Circuit gate: an open breaker short-circuits before any session or
	// fetch work happens.
	if !req.SkipBreaker {
		open, err := r.breaker.IsOpen(ctx, r.source)
		if err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("breaker check for %s: %w", r.source, err)
		}
		if open {
			r.logger.Warnf("Circuit breaker OPEN for %s - refusing scrape of %s", r.source, req.Identifier)
			result.Error = ErrCircuitOpen.Error()
			return result, fmt.Errorf("%s: %w", r.source, ErrCircuitOpen)
		}
	}

	var sessionID int64
	if req.SaveToDB {
		id, err := r.sessions.Open(ctx, r.source, req.URL)
		if err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("open session for %s: %w", r.source, err)
		}
		sessionID = id
	}

	outcome, err := attempt(ctx, sessionID)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		r.closeSession(ctx, sessionID, models.SessionStatusFailed, 0, 0)

		if req.lastAttempt() {
			// Each exhausted job counts once against the breaker, and the
			// record is flagged so the next sweep picks it up again.
			if berr := r.breaker.RecordFailure(ctx, r.source); berr != nil {
				r.logger.WithError(berr).Warnf("Failed to record breaker failure for %s", r.source)
			}
			if markFailed != nil {
				if merr := markFailed(ctx); merr != nil {
					r.logger.WithError(merr).Warnf("Failed to mark %s failed in repository", req.Identifier)
				}
			}
		}

		r.logger.WithError(err).Warnf("Scrape attempt %d/%d failed for %s %s",
			req.Attempt, req.MaxAttempts, r.source, req.Identifier)
		return result, err
	}

	result.Success = true
	result.NotFound = outcome.notFound
	result.ProductsFound = outcome.found
	result.ProductsStored = outcome.stored

	status := models.SessionStatusSuccess
	if outcome.partial {
		status = models.SessionStatusPartial
	}
	r.closeSession(ctx, sessionID, status, outcome.found, outcome.stored)

	if berr := r.breaker.RecordSuccess(ctx, r.source); berr != nil {
		r.logger.WithError(berr).Warnf("Failed to record breaker success for %s", r.source)
	}

	r.logger.Infof("Scraped %s %s: found=%d stored=%d not_found=%v duration=%dms",
		r.source, req.Identifier, outcome.found, outcome.stored, outcome.notFound, result.DurationMs)
	return result, nil
}

func (r *runner) closeSession(ctx context.Context, sessionID int64, status string, found, stored int) {
	if sessionID == 0 {
		return
	}
	if err := r.sessions.Close(ctx, sessionID, status, found, stored); err != nil {
		r.logger.WithError(err).Warnf("Failed to close scrape session %d", sessionID)
	}
}

// fetchAndArchive waits for the domain's rate-limit slot, fetches, and
// archives the body before anything parses it. Multi-step sources call it
// once per hop inside the same attempt.
func (r *runner) fetchAndArchive(ctx context.Context, sessionID int64, req Request, freq fetcher.Request) (*fetcher.Response, error) {
	if !req.SkipRateLimit {
		if err := r.limiter.WaitForNextRequest(ctx, r.domain); err != nil {
			return nil, fmt.Errorf("rate limit wait for %s: %w", r.domain, err)
		}
	}

	resp, err := r.fetch.Fetch(ctx, freq)
	if err != nil {
		return nil, err
	}

	if sessionID > 0 {
		payload := &models.RawPayload{
			SessionID:   sessionID,
			Source:      r.source,
			SourceURL:   freq.URL,
			Body:        resp.Body,
			ContentType: resp.ContentType,
			HTTPStatus:  resp.Status,
		}
		if err := r.raws.Save(ctx, payload); err != nil {
			return nil, fmt.Errorf("archive raw payload: %w", err)
		}
	}

	return resp, nil
}
