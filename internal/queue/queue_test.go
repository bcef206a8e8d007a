package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

func newTestQueue(t *testing.T, cfg Config) (*Queue, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New(logger.Config{Level: "error"})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return New(client, cfg, log), cleanup
}

func TestEnqueueClaimAck(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.JobScrapeMarketplace, models.JobData{Identifier: "75192-1"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, id, job.ID)
	require.Equal(t, models.JobStateActive, job.State)
	require.Equal(t, 1, job.AttemptsMade)
	require.Equal(t, "75192-1", job.Data.Identifier)
	require.NotNil(t, job.ProcessedOn)

	require.NoError(t, q.Ack(ctx, id, `{"ok":true}`))

	job, err = q.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobStateCompleted, job.State)
	require.Equal(t, `{"ok":true}`, job.Result)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Completed)
	require.EqualValues(t, 0, counts.Waiting)
	require.EqualValues(t, 0, counts.Active)
}

// Jobs enqueued [LOW, HIGH, NORMAL] must dispatch the HIGH job first.
func TestPriorityOrdering(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "low"}, EnqueueOptions{Priority: models.PriorityLow})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "high"}, EnqueueOptions{Priority: models.PriorityHigh})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "normal"}, EnqueueOptions{Priority: models.PriorityNormal})
	require.NoError(t, err)

	first, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "high", first.Data.Identifier)

	second, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "normal", second.Data.Identifier)

	third, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "low", third.Data.Identifier)
}

func TestFIFOWithinPriority(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		_, err := q.Enqueue(ctx, "scrape-community", models.JobData{Identifier: id}, EnqueueOptions{Priority: models.PriorityNormal})
		require.NoError(t, err)
	}

	for _, want := range []string{"first", "second", "third"} {
		job, err := q.Claim(ctx)
		require.NoError(t, err)
		require.Equal(t, want, job.Data.Identifier)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()

	job, err := q.Claim(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestDeduplication(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "10179"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	dup, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "10179"}, EnqueueOptions{})
	require.NoError(t, err)
	require.Empty(t, dup, "duplicate (name, identifier) must be skipped")

	// Same identifier under a different job name is a distinct job
	other, err := q.Enqueue(ctx, "scrape-community", models.JobData{Identifier: "10179"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, other)

	// Completion releases the dedup hold
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, job.ID, ""))

	again, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "10179"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, again)
}

func TestFailRequeuesWithBackoffThenExhausts(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{
		MaxAttempts:        3,
		BackoffBase:        10 * time.Millisecond,
		BackoffCap:         40 * time.Millisecond,
		CompletedRetention: 10,
	})
	defer cleanup()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "scrape-marketplace", models.JobData{Identifier: "75257-1"}, EnqueueOptions{})
	require.NoError(t, err)

	claimUntil := func() *models.Job {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			job, err := q.Claim(ctx)
			require.NoError(t, err)
			if job != nil {
				return job
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("no job became claimable before deadline")
		return nil
	}

	for attempt := 1; attempt <= 3; attempt++ {
		job := claimUntil()
		require.Equal(t, id, job.ID)
		require.Equal(t, attempt, job.AttemptsMade)
		require.NoError(t, q.Fail(ctx, id, "FetchHTTP(503)"))
	}

	// Attempts exhausted: terminal failed, not re-queued
	job, err := q.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, job.State)
	require.Contains(t, job.FailedReason, "503")

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Failed)
	require.EqualValues(t, 0, counts.Waiting+counts.Active+counts.Delayed)
}

func TestFailParksInDelayed(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{BackoffBase: time.Minute, BackoffCap: time.Minute})
	defer cleanup()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "42100"}, EnqueueOptions{})
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, q.Fail(ctx, id, "ParseError"))

	job, err = q.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobStateDelayed, job.State)
	require.NotNil(t, job.DelayedUntil)
	require.True(t, job.DelayedUntil.After(time.Now()))

	// Not claimable while the backoff runs
	next, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestFailFinalSkipsRetries(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{MaxAttempts: 3})
	defer cleanup()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "scrape-marketplace", models.JobData{Identifier: "75300-1"}, EnqueueOptions{})
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, job.AttemptsMade)

	require.NoError(t, q.FailFinal(ctx, id, "circuit breaker open"))

	job, err = q.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, job.State)
}

func TestDelayedEnqueueBecomesClaimable(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "scrape-community", models.JobData{Identifier: "31120"}, EnqueueOptions{
		Delay: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Nil(t, job, "delayed job must not be claimable immediately")

	time.Sleep(40 * time.Millisecond)

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "31120", job.Data.Identifier)
}

// Obliterate drops everything; in-flight ack/fail become silent no-ops.
func TestObliterate(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: string(rune('a' + i))}, EnqueueOptions{})
		require.NoError(t, err)
	}

	inFlight, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, inFlight)

	removed, err := q.Obliterate(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, removed)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, counts.Total())

	// The worker that held inFlight finishes later; its updates vanish
	require.NoError(t, q.Ack(ctx, inFlight.ID, "late result"))
	require.NoError(t, q.Fail(ctx, inFlight.ID, "late failure"))

	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, counts.Total())

	job, err := q.GetJob(ctx, inFlight.ID)
	require.NoError(t, err)
	require.Nil(t, job)

	// The queue accepts fresh work afterwards
	id, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: "fresh"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestCompletedRetentionTrims(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{CompletedRetention: 3})
	defer cleanup()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(ctx, "scrape-community", models.JobData{Identifier: string(rune('a' + i))}, EnqueueOptions{})
		require.NoError(t, err)
		ids = append(ids, id)

		job, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, job.ID, ""))
	}

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, counts.Completed)

	// Evicted jobs are gone entirely, not just off the list
	job, err := q.GetJob(ctx, ids[0])
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestListReturnsJobs(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"x", "y", "z"} {
		_, err := q.Enqueue(ctx, "scrape-metadata", models.JobData{Identifier: id}, EnqueueOptions{})
		require.NoError(t, err)
	}

	waiting, err := q.List(ctx, models.JobStateWaiting, 2)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	require.Equal(t, "x", waiting[0].Data.Identifier)
}

func TestStuckActiveCount(t *testing.T) {
	q, cleanup := newTestQueue(t, Config{})
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "scrape-marketplace", models.JobData{Identifier: "stuck"}, EnqueueOptions{})
	require.NoError(t, err)

	_, err = q.Claim(ctx)
	require.NoError(t, err)

	n, err := q.StuckActiveCount(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = q.StuckActiveCount(ctx, -time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
