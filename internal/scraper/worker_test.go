package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/internal/breaker"
	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/scraper/fetcher"
	"github.com/wilson/brickwatch/pkg/logger"
)

// ---- fakes ----

type fakeFetcher struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	requests  []fetcher.Request
}

type fakeResponse struct {
	resp *fetcher.Response
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.calls >= len(f.responses) {
		return nil, errors.New("fake fetcher: no scripted response left")
	}
	r := f.responses[f.calls]
	f.calls++
	return r.resp, r.err
}

func htmlResponse(body string) fakeResponse {
	return fakeResponse{resp: &fetcher.Response{
		Body:        []byte(body),
		Status:      200,
		FinalURL:    "https://example.test/page",
		ContentType: "text/html",
	}}
}

type noopLimiter struct{ waits int }

func (l *noopLimiter) WaitForNextRequest(ctx context.Context, domain string) error {
	l.waits++
	return nil
}

type fakeSessions struct {
	mu     sync.Mutex
	nextID int64
	closed map[int64]sessionClose
}

type sessionClose struct {
	status        string
	found, stored int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{closed: make(map[int64]sessionClose)}
}

func (s *fakeSessions) Open(ctx context.Context, source, sourceURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *fakeSessions) Close(ctx context.Context, id int64, status string, found, stored int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[id] = sessionClose{status: status, found: found, stored: stored}
	return nil
}

type fakeRaws struct {
	mu       sync.Mutex
	payloads []*models.RawPayload
}

func (r *fakeRaws) Save(ctx context.Context, p *models.RawPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

type fakeMarketplaceStore struct {
	mu       sync.Mutex
	upserts  []*models.MarketplaceItem
	failed   []string
	notFound map[string]time.Time
}

func newFakeMarketplaceStore() *fakeMarketplaceStore {
	return &fakeMarketplaceStore{notFound: make(map[string]time.Time)}
}

func (s *fakeMarketplaceStore) Upsert(ctx context.Context, item *models.MarketplaceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, item)
	return nil
}

func (s *fakeMarketplaceStore) MarkFailed(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, itemID)
	return nil
}

func (s *fakeMarketplaceStore) MarkNotFound(ctx context.Context, itemID string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notFound[itemID] = next
	return nil
}

type fakeMetadataStore struct {
	mu       sync.Mutex
	upserts  []*models.SetMetadata
	failed   []string
	notFound map[string]time.Time
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{notFound: make(map[string]time.Time)}
}

func (s *fakeMetadataStore) Upsert(ctx context.Context, meta *models.SetMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, meta)
	return nil
}

func (s *fakeMetadataStore) MarkFailed(ctx context.Context, setNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, setNumber)
	return nil
}

func (s *fakeMetadataStore) MarkNotFound(ctx context.Context, setNumber string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notFound[setNumber] = next
	return nil
}

type fakeProducts struct {
	mu       sync.Mutex
	products []*models.Product
}

func (p *fakeProducts) Upsert(ctx context.Context, product *models.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products = append(p.products, product)
	return nil
}

type fakeImages struct{ status string }

func (i *fakeImages) Download(ctx context.Context, url string) string {
	if i.status == "" {
		return models.ImageStatusSkipped
	}
	return i.status
}

// ---- harness ----

type harness struct {
	fetcher  *fakeFetcher
	limiter  *noopLimiter
	breaker  *breaker.Breaker
	sessions *fakeSessions
	raws     *fakeRaws
	cleanup  func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New(logger.Config{Level: "error"})

	return &harness{
		fetcher:  &fakeFetcher{},
		limiter:  &noopLimiter{},
		breaker:  breaker.New(client, 5, 5*time.Minute, log),
		sessions: newFakeSessions(),
		raws:     &fakeRaws{},
		cleanup: func() {
			_ = client.Close()
			mr.Close()
		},
	}
}

func (h *harness) marketplace(t *testing.T, repo MarketplaceStore, products ProductStore) *MarketplaceScraper {
	t.Helper()
	return NewMarketplaceScraper(MarketplaceDeps{
		Fetcher:  h.fetcher,
		Limiter:  h.limiter,
		Breaker:  h.breaker,
		Sessions: h.sessions,
		Raws:     h.raws,
		Repo:     repo,
		Products: products,
		Images:   &fakeImages{},
		BaseURL:  "https://marketplace.test",
		Logger:   logger.New(logger.Config{Level: "error"}),
	})
}

func (h *harness) metadata(t *testing.T, repo MetadataStore, products ProductStore) *MetadataScraper {
	t.Helper()
	return NewMetadataScraper(MetadataDeps{
		Fetcher:  h.fetcher,
		Limiter:  h.limiter,
		Breaker:  h.breaker,
		Sessions: h.sessions,
		Raws:     h.raws,
		Repo:     repo,
		Products: products,
		Images:   &fakeImages{},
		BaseURL:  "https://metadata.test",
		Logger:   logger.New(logger.Config{Level: "error"}),
	})
}

const marketplaceFixture = `<html><body>
<h1 id="item-name-title">Millennium Falcon</h1>
<span id="yearReleasedSec">2017</span>
<table class="price-guide">
<tr><td>Times Sold:</td><td>142</td></tr>
<tr><td>Avg Price:</td><td>$849.99</td></tr>
<tr><td>Min Price:</td><td>$701.00</td></tr>
<tr><td>Max Price:</td><td>$1,050.50</td></tr>
</table>
</body></html>`

// Happy path: one upserted record, one raw payload, one success session,
// breaker stays closed with zero failures.
func TestMarketplaceScrapeHappyPath(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{htmlResponse(marketplaceFixture)}
	repo := newFakeMarketplaceStore()
	products := &fakeProducts{}
	s := h.marketplace(t, repo, products)

	result, err := s.Scrape(context.Background(), Request{
		Identifier: "75192-1", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.NotFound)
	require.Equal(t, 1, result.ProductsStored)

	require.Len(t, repo.upserts, 1)
	item := repo.upserts[0]
	require.Equal(t, "Millennium Falcon", item.Name)
	require.Equal(t, 2017, item.YearReleased)
	require.EqualValues(t, 84999, item.AvgPriceCents)
	require.EqualValues(t, 70100, item.MinPriceCents)
	require.EqualValues(t, 105050, item.MaxPriceCents)
	require.Equal(t, 142, item.TimesSold)
	require.Equal(t, "high", item.VolumeBucket)

	require.Len(t, h.raws.payloads, 1)
	require.Equal(t, models.SourceMarketplace, h.raws.payloads[0].Source)

	require.Len(t, h.sessions.closed, 1)
	require.Equal(t, sessionClose{status: models.SessionStatusSuccess, found: 1, stored: 1}, h.sessions.closed[1])

	st, err := h.breaker.GetState(context.Background(), models.SourceMarketplace)
	require.NoError(t, err)
	require.Equal(t, breaker.StateClosed, st.State)
	require.Equal(t, 0, st.Failures)

	require.Equal(t, 1, h.limiter.waits)
	require.Len(t, products.products, 1)
}

func TestMarketplaceInvalidIdentifier(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	s := h.marketplace(t, newFakeMarketplaceStore(), &fakeProducts{})

	_, err := s.Scrape(context.Background(), Request{Identifier: "", Attempt: 1, MaxAttempts: 3})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, h.fetcher.calls, "invalid input must not reach the fetcher")
}

// Not the last attempt: the error propagates but the breaker is untouched
// and the repository is not flagged yet.
func TestMarketplaceTransientFailureKeepsBreakerClosed(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{{err: &fetcher.HTTPError{Status: 503, URL: "https://marketplace.test/x"}}}
	repo := newFakeMarketplaceStore()
	s := h.marketplace(t, repo, &fakeProducts{})

	_, err := s.Scrape(context.Background(), Request{
		Identifier: "75257-1", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.Error(t, err)
	require.Empty(t, repo.failed)

	st, berr := h.breaker.GetState(context.Background(), models.SourceMarketplace)
	require.NoError(t, berr)
	require.Equal(t, 0, st.Failures)

	require.Equal(t, sessionClose{status: models.SessionStatusFailed}, h.sessions.closed[1])
}

// Exhausted retries: exactly one breaker failure and the record flagged.
func TestMarketplaceExhaustionCountsOnceAgainstBreaker(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{{err: &fetcher.HTTPError{Status: 503, URL: "https://marketplace.test/x"}}}
	repo := newFakeMarketplaceStore()
	s := h.marketplace(t, repo, &fakeProducts{})

	_, err := s.Scrape(context.Background(), Request{
		Identifier: "75257-1", SaveToDB: true, Attempt: 3, MaxAttempts: 3,
	})
	require.Error(t, err)
	require.Equal(t, []string{"75257-1"}, repo.failed)

	st, berr := h.breaker.GetState(context.Background(), models.SourceMarketplace)
	require.NoError(t, berr)
	require.Equal(t, 1, st.Failures)
}

// A hard 404 is a terminal not-found success, not a retryable failure.
func TestMarketplace404BecomesNotFound(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{{err: &fetcher.HTTPError{Status: 404, URL: "https://marketplace.test/x"}}}
	repo := newFakeMarketplaceStore()
	s := h.marketplace(t, repo, &fakeProducts{})

	result, err := s.Scrape(context.Background(), Request{
		Identifier: "99999-9", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.NotFound)

	next, ok := repo.notFound["99999-9"]
	require.True(t, ok)
	wantNext := time.Now().UTC().AddDate(0, 0, models.DefaultNotFoundRetryDays)
	require.WithinDuration(t, wantNext, next, time.Hour)

	st, berr := h.breaker.GetState(context.Background(), models.SourceMarketplace)
	require.NoError(t, berr)
	require.Equal(t, breaker.StateClosed, st.State)
}

// Five exhausted jobs trip the breaker; the sixth scrape short-circuits
// without touching the fetcher.
func TestBreakerTripsAfterFiveExhaustedJobs(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	repo := newFakeMarketplaceStore()
	s := h.marketplace(t, repo, &fakeProducts{})

	for i := 0; i < 5; i++ {
		h.fetcher.responses = append(h.fetcher.responses,
			fakeResponse{err: &fetcher.HTTPError{Status: 503, URL: "https://marketplace.test/x"}})
	}

	for i := 0; i < 5; i++ {
		_, err := s.Scrape(context.Background(), Request{
			Identifier: "75257-1", SaveToDB: true, Attempt: 3, MaxAttempts: 3,
		})
		require.Error(t, err)
	}

	fetchCallsBefore := h.fetcher.calls
	_, err := s.Scrape(context.Background(), Request{
		Identifier: "75257-1", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, fetchCallsBefore, h.fetcher.calls, "open circuit must not fetch")
}

// Force scrapes bypass the breaker gate.
func TestForceScrapeBypassesBreaker(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	repo := newFakeMarketplaceStore()
	s := h.marketplace(t, repo, &fakeProducts{})

	for i := 0; i < 5; i++ {
		require.NoError(t, h.breaker.RecordFailure(context.Background(), models.SourceMarketplace))
	}

	h.fetcher.responses = []fakeResponse{htmlResponse(marketplaceFixture)}
	result, err := s.Scrape(context.Background(), Request{
		Identifier: "75192-1", SaveToDB: true, SkipBreaker: true, Attempt: 1, MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
}

const metadataSearchEmpty = `<html><body><div class="search-results"><p>No sets found.</p></div></body></html>`

const metadataSearchHit = `<html><body>
<article class="set"><h1><a href="/sets/75192-1/">75192: Millennium Falcon</a></h1></article>
</body></html>`

const metadataProduct = `<html><body>
<h1>75192: Millennium Falcon</h1>
<dl>
<dt>Set number</dt><dd>75192</dd>
<dt>Theme</dt><dd>Star Wars</dd>
<dt>Year released</dt><dd>2017</dd>
<dt>Pieces</dt><dd>7,541</dd>
<dt>Minifigs</dt><dd>8</dd>
<dt>RRP</dt><dd>799.99 (US)</dd>
</dl>
</body></html>`

// A search with no product link records not_found with a ~90 day horizon.
func TestMetadataSearchMissBecomesNotFound(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{htmlResponse(metadataSearchEmpty)}
	repo := newFakeMetadataStore()
	s := h.metadata(t, repo, &fakeProducts{})

	result, err := s.Scrape(context.Background(), Request{
		Identifier: "77243", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.NotFound)
	require.Empty(t, repo.upserts)

	next, ok := repo.notFound["77243"]
	require.True(t, ok)
	require.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 90), next, time.Hour)

	// Breaker records a success: the source answered correctly
	st, berr := h.breaker.GetState(context.Background(), models.SourceMetadataSite)
	require.NoError(t, berr)
	require.Equal(t, breaker.StateClosed, st.State)
}

// The two-hop flow rate-limits and archives each hop inside one attempt.
func TestMetadataTwoHopScrape(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{
		htmlResponse(metadataSearchHit),
		htmlResponse(metadataProduct),
	}
	repo := newFakeMetadataStore()
	s := h.metadata(t, repo, &fakeProducts{})

	result, err := s.Scrape(context.Background(), Request{
		Identifier: "75192", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Equal(t, 2, h.fetcher.calls)
	require.Equal(t, 2, h.limiter.waits, "each hop takes its own rate-limit slot")
	require.Len(t, h.raws.payloads, 2, "each hop is archived")

	require.Len(t, repo.upserts, 1)
	meta := repo.upserts[0]
	require.Equal(t, "75192", meta.SetNumber)
	require.Equal(t, "Star Wars", meta.Theme)
	require.Equal(t, 7541, meta.Pieces)
	require.Equal(t, 8, meta.Minifigs)
	require.EqualValues(t, 79999, meta.RRPCents)
}

// A second-hop failure costs one attempt, not two.
func TestMetadataSecondHopFailureIsOneAttempt(t *testing.T) {
	h := newHarness(t)
	defer h.cleanup()

	h.fetcher.responses = []fakeResponse{
		htmlResponse(metadataSearchHit),
		{err: &fetcher.HTTPError{Status: 503, URL: "https://metadata.test/sets/75192-1/"}},
	}
	repo := newFakeMetadataStore()
	s := h.metadata(t, repo, &fakeProducts{})

	_, err := s.Scrape(context.Background(), Request{
		Identifier: "75192", SaveToDB: true, Attempt: 1, MaxAttempts: 3,
	})
	require.Error(t, err)

	// One session, closed failed; first hop still archived
	require.Equal(t, sessionClose{status: models.SessionStatusFailed}, h.sessions.closed[1])
	require.Len(t, h.raws.payloads, 1)

	st, berr := h.breaker.GetState(context.Background(), models.SourceMetadataSite)
	require.NoError(t, berr)
	require.Equal(t, 0, st.Failures, "non-final attempt must not count against the breaker")
}
