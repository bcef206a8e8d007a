package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilson/brickwatch/pkg/config"
	"github.com/wilson/brickwatch/pkg/logger"
)

// ErrUnavailable is returned when the shared store cannot be reached; the
// queue worker treats it as retryable.
var ErrUnavailable = errors.New("rate limiter store unavailable")

// Limiter enforces a minimum inter-request interval per domain, shared
// across processes via Redis. Domains may additionally carry a sliding
// window ceiling (requests per window), both knobs configured per domain.
type Limiter struct {
	client  *redis.Client
	domains map[string]config.DomainRateLimit
	logger  *logger.Logger
	script  *redis.Script

	// One mutex per domain releases local waiters in arrival order.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// reserveLua returns 0 when the slot was taken (last_request_at updated),
// otherwise the number of milliseconds the caller must wait. The sliding
// window, when configured, is checked after the minimum gap.
const reserveLua = `
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local last = tonumber(redis.call("GET", KEYS[1]) or "0")
local wait = last + interval - now
if wait > 0 then
  return wait
end
local limit = tonumber(ARGV[3])
if limit > 0 then
  local window = tonumber(ARGV[4]) * 1000
  redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", now - window)
  if redis.call("ZCARD", KEYS[2]) >= limit then
    local oldest = redis.call("ZRANGE", KEYS[2], 0, 0, "WITHSCORES")
    return tonumber(oldest[2]) + window - now
  end
  redis.call("ZADD", KEYS[2], now, tostring(now))
  redis.call("EXPIRE", KEYS[2], tonumber(ARGV[4]) + 60)
end
redis.call("SET", KEYS[1], now)
return 0
`

// New creates a limiter for the given per-domain configuration.
func New(client *redis.Client, domains map[string]config.DomainRateLimit, log *logger.Logger) *Limiter {
	return &Limiter{
		client:  client,
		domains: domains,
		logger:  log.WithComponent("rate-limiter"),
		script:  redis.NewScript(reserveLua),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (l *Limiter) domainLock(domain string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lock, ok := l.locks[domain]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[domain] = lock
	return lock
}

// WaitForNextRequest blocks until the inter-request gap for the domain has
// elapsed, then records the request atomically. Domains without a
// configuration pass through immediately.
func (l *Limiter) WaitForNextRequest(ctx context.Context, domain string) error {
	cfg, ok := l.domains[domain]
	if !ok || cfg.MinIntervalMs <= 0 {
		return nil
	}

	// Arrival-order fairness for local callers; cross-process callers
	// contend on the atomic reserve below.
	lock := l.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	lastKey := "ratelimit:last:" + domain
	windowKey := "ratelimit:window:" + domain

	for {
		now := time.Now().UnixMilli()
		waitMs, err := l.script.Run(ctx, l.client,
			[]string{lastKey, windowKey},
			now, cfg.MinIntervalMs, cfg.WindowLimit, cfg.WindowSeconds,
		).Int64()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if waitMs <= 0 {
			return nil
		}

		sleep := time.Duration(waitMs) * time.Millisecond
		if cfg.JitterMs > 0 {
			sleep += time.Duration(rand.Intn(cfg.JitterMs)) * time.Millisecond
		}

		l.logger.Debugf("Rate limit wait %v for domain %s", sleep, domain)

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LastRequestAt reads the recorded time of the domain's last request.
func (l *Limiter) LastRequestAt(ctx context.Context, domain string) (time.Time, error) {
	ms, err := l.client.Get(ctx, "ratelimit:last:"+domain).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.UnixMilli(ms), nil
}
