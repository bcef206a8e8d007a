package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilson/brickwatch/pkg/logger"
)

// Circuit states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// State is a snapshot of one source's breaker, read from the shared store.
type State struct {
	Source        string    `json:"source"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// Breaker is a per-source circuit breaker whose counters live in Redis so
// independent worker processes observe the same state. All transitions run
// inside Lua scripts to stay atomic under concurrent workers.
type Breaker struct {
	client    *redis.Client
	threshold int
	cooldown  time.Duration
	logger    *logger.Logger

	isOpenScript  *redis.Script
	failureScript *redis.Script
	successScript *redis.Script
}

// isOpen also performs the open -> half-open transition once the cooldown
// has elapsed, so the next caller through gets to probe the source.
const isOpenLua = `
local state = redis.call("HGET", KEYS[1], "state")
if state == false or state == "closed" or state == "half-open" then
  return 0
end
local last = tonumber(redis.call("HGET", KEYS[1], "last_failure_at") or "0")
if tonumber(ARGV[1]) - last >= tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "state", "half-open")
  return 0
end
return 1
`

const recordFailureLua = `
local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
redis.call("HSET", KEYS[1], "last_failure_at", ARGV[1])
local state = redis.call("HGET", KEYS[1], "state")
if state == "half-open" or failures >= tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "state", "open")
end
return failures
`

const recordSuccessLua = `
redis.call("HSET", KEYS[1], "state", "closed", "failures", 0)
return 0
`

// New creates a circuit breaker backed by the given Redis client.
func New(client *redis.Client, threshold int, cooldown time.Duration, log *logger.Logger) *Breaker {
	return &Breaker{
		client:        client,
		threshold:     threshold,
		cooldown:      cooldown,
		logger:        log.WithComponent("circuit-breaker"),
		isOpenScript:  redis.NewScript(isOpenLua),
		failureScript: redis.NewScript(recordFailureLua),
		successScript: redis.NewScript(recordSuccessLua),
	}
}

func key(source string) string {
	return "breaker:" + source
}

// IsOpen reports whether calls to the source should be short-circuited.
func (b *Breaker) IsOpen(ctx context.Context, source string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := b.isOpenScript.Run(ctx, b.client, []string{key(source)}, now, b.cooldown.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("breaker state check failed: %w", err)
	}
	return res == 1, nil
}

// RecordFailure counts one failed scrape against the source. Reaching the
// threshold, or failing while half-open, opens the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, source string) error {
	now := time.Now().UnixMilli()
	failures, err := b.failureScript.Run(ctx, b.client, []string{key(source)}, now, b.threshold).Int()
	if err != nil {
		return fmt.Errorf("breaker failure record failed: %w", err)
	}

	if failures >= b.threshold {
		b.logger.Warnf("Circuit breaker OPEN for %s (failures: %d)", source, failures)
	} else {
		b.logger.Debugf("Breaker failure %d/%d for %s", failures, b.threshold, source)
	}
	return nil
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess(ctx context.Context, source string) error {
	if err := b.successScript.Run(ctx, b.client, []string{key(source)}, 0).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("breaker success record failed: %w", err)
	}
	return nil
}

// GetState reads the current breaker snapshot for a source.
func (b *Breaker) GetState(ctx context.Context, source string) (*State, error) {
	vals, err := b.client.HGetAll(ctx, key(source)).Result()
	if err != nil {
		return nil, fmt.Errorf("breaker state read failed: %w", err)
	}

	st := &State{Source: source, State: StateClosed}
	if s, ok := vals["state"]; ok && s != "" {
		st.State = s
	}
	if f, ok := vals["failures"]; ok {
		fmt.Sscanf(f, "%d", &st.Failures)
	}
	if ts, ok := vals["last_failure_at"]; ok && ts != "" {
		var ms int64
		fmt.Sscanf(ts, "%d", &ms)
		st.LastFailureAt = time.UnixMilli(ms)
	}
	return st, nil
}

// Reset clears a source's breaker state entirely.
func (b *Breaker) Reset(ctx context.Context, source string) error {
	return b.client.Del(ctx, key(source)).Err()
}
