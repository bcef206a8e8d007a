package breaker

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/pkg/logger"
)

func newTestBreaker(t *testing.T, threshold int, cooldown time.Duration) (*Breaker, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New(logger.Config{Level: "error"})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return New(client, threshold, cooldown, log), cleanup
}

func TestBreakerStartsClosed(t *testing.T) {
	b, cleanup := newTestBreaker(t, 5, time.Minute)
	defer cleanup()

	open, err := b.IsOpen(context.Background(), "marketplace")
	require.NoError(t, err)
	require.False(t, open)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, cleanup := newTestBreaker(t, 5, time.Minute)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "marketplace"))
		open, err := b.IsOpen(ctx, "marketplace")
		require.NoError(t, err)
		require.False(t, open, "breaker opened before threshold at failure %d", i+1)
	}

	require.NoError(t, b.RecordFailure(ctx, "marketplace"))
	open, err := b.IsOpen(ctx, "marketplace")
	require.NoError(t, err)
	require.True(t, open)

	// Stays open within the cooldown
	open, err = b.IsOpen(ctx, "marketplace")
	require.NoError(t, err)
	require.True(t, open)
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, cleanup := newTestBreaker(t, 2, 50*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx, "metadata_site"))
	require.NoError(t, b.RecordFailure(ctx, "metadata_site"))

	open, err := b.IsOpen(ctx, "metadata_site")
	require.NoError(t, err)
	require.True(t, open)

	time.Sleep(60 * time.Millisecond)

	// Cooldown elapsed: the check itself transitions open -> half-open
	open, err = b.IsOpen(ctx, "metadata_site")
	require.NoError(t, err)
	require.False(t, open)

	state, err := b.GetState(ctx, "metadata_site")
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, state.State)
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b, cleanup := newTestBreaker(t, 2, 50*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx, "community"))
	require.NoError(t, b.RecordFailure(ctx, "community"))
	time.Sleep(60 * time.Millisecond)

	open, err := b.IsOpen(ctx, "community")
	require.NoError(t, err)
	require.False(t, open)

	require.NoError(t, b.RecordSuccess(ctx, "community"))

	state, err := b.GetState(ctx, "community")
	require.NoError(t, err)
	require.Equal(t, StateClosed, state.State)
	require.Equal(t, 0, state.Failures)
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b, cleanup := newTestBreaker(t, 2, 50*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx, "community"))
	require.NoError(t, b.RecordFailure(ctx, "community"))
	time.Sleep(60 * time.Millisecond)

	open, err := b.IsOpen(ctx, "community")
	require.NoError(t, err)
	require.False(t, open)

	// One failure during the probe snaps the circuit back open
	require.NoError(t, b.RecordFailure(ctx, "community"))
	open, err = b.IsOpen(ctx, "community")
	require.NoError(t, err)
	require.True(t, open)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, cleanup := newTestBreaker(t, 5, time.Minute)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "marketplace"))
	}
	require.NoError(t, b.RecordSuccess(ctx, "marketplace"))

	state, err := b.GetState(ctx, "marketplace")
	require.NoError(t, err)
	require.Equal(t, 0, state.Failures)

	// A fresh run of failures is needed to open again
	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "marketplace"))
	}
	open, err := b.IsOpen(ctx, "marketplace")
	require.NoError(t, err)
	require.False(t, open)
}

func TestBreakerSourcesAreIndependent(t *testing.T) {
	b, cleanup := newTestBreaker(t, 2, time.Minute)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx, "marketplace"))
	require.NoError(t, b.RecordFailure(ctx, "marketplace"))

	open, err := b.IsOpen(ctx, "marketplace")
	require.NoError(t, err)
	require.True(t, open)

	open, err = b.IsOpen(ctx, "metadata_site")
	require.NoError(t, err)
	require.False(t, open)
}
