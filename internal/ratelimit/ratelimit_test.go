package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/pkg/config"
	"github.com/wilson/brickwatch/pkg/logger"
)

func newTestLimiter(t *testing.T, domains map[string]config.DomainRateLimit) (*Limiter, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New(logger.Config{Level: "error"})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return New(client, domains, log), cleanup
}

func TestUnknownDomainPassesThrough(t *testing.T) {
	l, cleanup := newTestLimiter(t, map[string]config.DomainRateLimit{})
	defer cleanup()

	start := time.Now()
	require.NoError(t, l.WaitForNextRequest(context.Background(), "unconfigured.example"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestMinIntervalEnforced(t *testing.T) {
	l, cleanup := newTestLimiter(t, map[string]config.DomainRateLimit{
		"slow.example": {MinIntervalMs: 80},
	})
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, l.WaitForNextRequest(ctx, "slow.example"))

	start := time.Now()
	require.NoError(t, l.WaitForNextRequest(ctx, "slow.example"))
	require.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

// Concurrent callers complete spaced by at least the minimum interval.
func TestConcurrentCallersAreSpaced(t *testing.T) {
	const interval = 50 * time.Millisecond
	const callers = 4

	l, cleanup := newTestLimiter(t, map[string]config.DomainRateLimit{
		"fair.example": {MinIntervalMs: int(interval.Milliseconds())},
	})
	defer cleanup()

	var mu sync.Mutex
	var completions []time.Time
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.WaitForNextRequest(context.Background(), "fair.example"))
			mu.Lock()
			completions = append(completions, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, completions, callers)
	sort.Slice(completions, func(i, j int) bool { return completions[i].Before(completions[j]) })

	for i := 1; i < len(completions); i++ {
		gap := completions[i].Sub(completions[i-1])
		// Allow a small scheduling tolerance below the nominal interval
		require.GreaterOrEqual(t, gap, interval-15*time.Millisecond,
			"callers %d and %d completed %v apart", i-1, i, gap)
	}
}

func TestContextCancelStopsWaiting(t *testing.T) {
	l, cleanup := newTestLimiter(t, map[string]config.DomainRateLimit{
		"slow.example": {MinIntervalMs: 5000},
	})
	defer cleanup()

	require.NoError(t, l.WaitForNextRequest(context.Background(), "slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.WaitForNextRequest(ctx, "slow.example")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLastRequestAtRecorded(t *testing.T) {
	l, cleanup := newTestLimiter(t, map[string]config.DomainRateLimit{
		"fast.example": {MinIntervalMs: 1},
	})
	defer cleanup()
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	require.NoError(t, l.WaitForNextRequest(ctx, "fast.example"))

	last, err := l.LastRequestAt(ctx, "fast.example")
	require.NoError(t, err)
	require.True(t, last.After(before))
}
