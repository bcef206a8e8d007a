package scheduler

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/pkg/logger"
)

// fakeRepo mimics a source repository's scheduling surface, including the
// not_found exclusion: parked identifiers stay out of the due list until
// their next_scrape_at passes.
type fakeRepo struct {
	due      []models.ScrapeCandidate
	newIDs   []string
	active   []models.ScrapeCandidate
	notFound map[string]time.Time
}

func (r *fakeRepo) FindItemsNeedingScraping(ctx context.Context) ([]models.ScrapeCandidate, error) {
	var out []models.ScrapeCandidate
	for _, c := range r.due {
		if next, parked := r.notFound[c.Identifier]; parked && next.After(time.Now()) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeRepo) FindNewIdentifiers(ctx context.Context) ([]string, error) {
	return r.newIDs, nil
}

func (r *fakeRepo) FindAllActive(ctx context.Context) ([]models.ScrapeCandidate, error) {
	return r.active, nil
}

func newSchedulerHarness(t *testing.T, specs []SourceSpec) (*Scheduler, *queue.Queue, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New(logger.Config{Level: "error"})

	q := queue.New(client, queue.Config{}, log)
	sched := NewScheduler(specs, q, time.Hour, log)

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return sched, q, cleanup
}

func TestSweepEnqueuesDueItems(t *testing.T) {
	repo := &fakeRepo{
		due: []models.ScrapeCandidate{
			{Identifier: "75192"},
			{Identifier: "10179", Overdue: true},
		},
	}
	sched, q, cleanup := newSchedulerHarness(t, []SourceSpec{{
		Source:  models.SourceMetadataSite,
		JobName: models.JobScrapeMetadata,
		Repo:    repo,
		BuildURL: func(c models.ScrapeCandidate) string {
			return "https://metadata.test/search?query=" + c.Identifier
		},
	}})
	defer cleanup()
	ctx := context.Background()

	results, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].ItemsFound)
	require.Equal(t, 2, results[0].JobsEnqueued)
	require.Equal(t, 1, results[0].Priorities["MEDIUM"])
	require.Equal(t, 1, results[0].Priorities["NORMAL"])

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, counts.Waiting)
}

// A product identifier with no source row must appear in the next sweep's
// output, enqueued HIGH, and therefore dispatch before on-schedule work.
func TestSweepNewDiscoveryIsReachableAndHigh(t *testing.T) {
	repo := &fakeRepo{
		due:    []models.ScrapeCandidate{{Identifier: "75192"}},
		newIDs: []string{"31120"},
	}
	sched, q, cleanup := newSchedulerHarness(t, []SourceSpec{{
		Source:  models.SourceMetadataSite,
		JobName: models.JobScrapeMetadata,
		Repo:    repo,
	}})
	defer cleanup()
	ctx := context.Background()

	results, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, results[0].JobsEnqueued)
	require.Equal(t, 1, results[0].Priorities["HIGH"])

	first, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "31120", first.Data.Identifier)
	require.Equal(t, models.PriorityHigh, first.Priority)
}

// Sweeps are idempotent: re-sweeping while jobs are pending enqueues nothing.
func TestSweepDeduplicates(t *testing.T) {
	repo := &fakeRepo{due: []models.ScrapeCandidate{{Identifier: "75192"}}}
	sched, _, cleanup := newSchedulerHarness(t, []SourceSpec{{
		Source:  models.SourceMetadataSite,
		JobName: models.JobScrapeMetadata,
		Repo:    repo,
	}})
	defer cleanup()
	ctx := context.Background()

	results, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, results[0].JobsEnqueued)

	results, err = sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, results[0].JobsEnqueued, "pending job must suppress a duplicate")
}

// After markNotFound with a future horizon the item never re-enqueues,
// matching the not-found persistence invariant.
func TestSweepSkipsParkedNotFound(t *testing.T) {
	repo := &fakeRepo{
		due: []models.ScrapeCandidate{{Identifier: "77243"}},
		notFound: map[string]time.Time{
			"77243": time.Now().AddDate(0, 0, 90),
		},
	}
	sched, q, cleanup := newSchedulerHarness(t, []SourceSpec{{
		Source:  models.SourceMetadataSite,
		JobName: models.JobScrapeMetadata,
		Repo:    repo,
	}})
	defer cleanup()
	ctx := context.Background()

	results, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, results[0].JobsEnqueued)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, counts.Waiting)
}

// Obliterate then trigger-all: the queue empties and reseeds from current
// repository state.
func TestResetRepopulatesFromRepositories(t *testing.T) {
	repo := &fakeRepo{
		due:    []models.ScrapeCandidate{{Identifier: "a"}, {Identifier: "b"}},
		active: []models.ScrapeCandidate{{Identifier: "a"}, {Identifier: "b"}, {Identifier: "c"}},
	}
	sched, q, cleanup := newSchedulerHarness(t, []SourceSpec{{
		Source:  models.SourceCommunity,
		JobName: models.JobScrapeCommunity,
		Repo:    repo,
	}})
	defer cleanup()
	ctx := context.Background()

	_, err := sched.Sweep(ctx)
	require.NoError(t, err)

	removed, err := q.Obliterate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, counts.Total())

	results, err := sched.TriggerAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, results[0].JobsEnqueued)

	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, counts.Waiting)
}

func TestForceScrapeEnqueuesHighAcrossSources(t *testing.T) {
	metaRepo := &fakeRepo{}
	commRepo := &fakeRepo{}
	sched, q, cleanup := newSchedulerHarness(t, []SourceSpec{
		{Source: models.SourceMetadataSite, JobName: models.JobScrapeMetadata, Repo: metaRepo},
		{Source: models.SourceCommunity, JobName: models.JobScrapeCommunity, Repo: commRepo},
	})
	defer cleanup()
	ctx := context.Background()

	enqueued, err := sched.ForceScrape(ctx, []string{"75192"})
	require.NoError(t, err)
	require.Equal(t, 2, enqueued)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, models.PriorityHigh, job.Priority)
	require.True(t, job.Data.Force, "forced jobs must bypass breaker checks downstream")
}
