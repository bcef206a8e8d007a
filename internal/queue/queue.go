package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// Config holds queue behavior settings.
type Config struct {
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	CompletedRetention int
}

// Queue is a durable priority job queue on Redis. Jobs move through
// waiting -> active -> completed, with failed attempts parked in delayed
// before re-entering waiting, and exhausted jobs landing in failed. All
// state transitions are Lua scripts so any number of producer and consumer
// processes can share the queue safely.
type Queue struct {
	client *redis.Client
	cfg    Config
	logger *logger.Logger

	enqueueScript *redis.Script
	claimScript   *redis.Script
	ackScript     *redis.Script
	failScript    *redis.Script
}

const (
	keyWaiting   = "queue:waiting"
	keyDelayed   = "queue:delayed"
	keyActive    = "queue:active"
	keyCompleted = "queue:completed"
	keyFailed    = "queue:failed"
	keyDedup     = "queue:dedup"
	keySeq       = "queue:seq"
	keyPaused    = "queue:paused"
	jobKeyPrefix = "queue:job:"
	workerPrefix = "queue:worker:"
)

// Waiting-set scores encode priority then arrival: priority * 1e13 plus a
// monotonic sequence, so ZRANGE 0 0 yields strict priority order with FIFO
// inside each band.

// enqueueLua skips duplicates: a job with the same (name, identifier) still
// in waiting, active or delayed blocks a new enqueue.
const enqueueLua = `
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
  return 0
end
local seq = redis.call("INCR", KEYS[5])
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2],
  "id", ARGV[2], "name", ARGV[3], "data", ARGV[4],
  "priority", ARGV[5], "max_attempts", ARGV[6], "attempts_made", 0,
  "queued_at", ARGV[7], "seq", seq, "dedup", ARGV[1])
local delay = tonumber(ARGV[8])
if delay > 0 then
  local ready = tonumber(ARGV[7]) + delay
  redis.call("HSET", KEYS[2], "state", "delayed", "delayed_until", ready)
  redis.call("ZADD", KEYS[4], ready, ARGV[2])
else
  redis.call("HSET", KEYS[2], "state", "waiting")
  redis.call("ZADD", KEYS[3], tonumber(ARGV[5]) * 1e13 + seq, ARGV[2])
end
return 1
`

// claimLua first promotes due delayed jobs back into waiting, then pops the
// best-priority oldest job and marks it active.
const claimLua = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(due) do
  local jk = ARGV[2] .. id
  local pri = redis.call("HGET", jk, "priority")
  local seq = redis.call("HGET", jk, "seq")
  if pri then
    redis.call("ZADD", KEYS[2], tonumber(pri) * 1e13 + tonumber(seq), id)
    redis.call("HSET", jk, "state", "waiting")
  end
  redis.call("ZREM", KEYS[1], id)
end
local ids = redis.call("ZRANGE", KEYS[2], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("ZREM", KEYS[2], id)
local jk = ARGV[2] .. id
redis.call("HSET", jk, "state", "active", "processed_on", ARGV[1])
redis.call("HINCRBY", jk, "attempts_made", 1)
redis.call("ZADD", KEYS[3], tonumber(ARGV[1]), id)
return id
`

// ackLua is a no-op for job IDs the queue no longer knows (obliterated mid
// flight); the completed list is trimmed to the retention window and
// evicted job hashes deleted with it.
const ackLua = `
if redis.call("EXISTS", KEYS[3]) == 0 then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
local d = redis.call("HGET", KEYS[3], "dedup")
if d then
  redis.call("SREM", KEYS[4], d)
end
redis.call("HSET", KEYS[3], "state", "completed", "finished_on", ARGV[2], "result", ARGV[3])
redis.call("LPUSH", KEYS[2], ARGV[1])
local evicted = redis.call("LRANGE", KEYS[2], tonumber(ARGV[4]), -1)
for _, eid in ipairs(evicted) do
  redis.call("DEL", ARGV[5] .. eid)
end
redis.call("LTRIM", KEYS[2], 0, tonumber(ARGV[4]) - 1)
return 1
`

// failLua re-queues with a delay while attempts remain, unless ARGV[5]
// marks the failure terminal (circuit open, invalid input).
const failLua = `
if redis.call("EXISTS", KEYS[4]) == 0 then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
local attempts = tonumber(redis.call("HGET", KEYS[4], "attempts_made") or "0")
local max = tonumber(redis.call("HGET", KEYS[4], "max_attempts") or "0")
redis.call("HSET", KEYS[4], "failed_reason", ARGV[3])
if ARGV[5] == "0" and attempts < max then
  local ready = tonumber(ARGV[2]) + tonumber(ARGV[4])
  redis.call("HSET", KEYS[4], "state", "delayed", "delayed_until", ready)
  redis.call("ZADD", KEYS[2], ready, ARGV[1])
  return 1
end
local d = redis.call("HGET", KEYS[4], "dedup")
if d then
  redis.call("SREM", KEYS[5], d)
end
redis.call("HSET", KEYS[4], "state", "failed", "finished_on", ARGV[2])
redis.call("LPUSH", KEYS[3], ARGV[1])
local evicted = redis.call("LRANGE", KEYS[3], tonumber(ARGV[6]), -1)
for _, eid in ipairs(evicted) do
  redis.call("DEL", ARGV[7] .. eid)
end
redis.call("LTRIM", KEYS[3], 0, tonumber(ARGV[6]) - 1)
return 2
`

// New creates a queue backed by the given Redis client.
func New(client *redis.Client, cfg Config, log *logger.Logger) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = models.DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = models.DefaultBackoffBaseMs * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = models.DefaultBackoffCapSeconds * time.Second
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = models.DefaultCompletedRetention
	}

	return &Queue{
		client:        client,
		cfg:           cfg,
		logger:        log.WithComponent("queue"),
		enqueueScript: redis.NewScript(enqueueLua),
		claimScript:   redis.NewScript(claimLua),
		ackScript:     redis.NewScript(ackLua),
		failScript:    redis.NewScript(failLua),
	}
}

// EnqueueOptions controls a single enqueue call.
type EnqueueOptions struct {
	Priority    models.JobPriority
	MaxAttempts int
	Delay       time.Duration
}

// Enqueue adds a job unless an equivalent (name, identifier) job is already
// pending. Returns the job ID, or ("", nil) when deduplicated.
func (q *Queue) Enqueue(ctx context.Context, name string, data models.JobData, opts EnqueueOptions) (string, error) {
	if opts.Priority == 0 {
		opts.Priority = models.PriorityNormal
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.cfg.MaxAttempts
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job data: %w", err)
	}

	id := uuid.NewString()
	dedupMember := name + "|" + data.Identifier
	now := time.Now().UnixMilli()

	added, err := q.enqueueScript.Run(ctx, q.client,
		[]string{keyDedup, jobKeyPrefix + id, keyWaiting, keyDelayed, keySeq},
		dedupMember, id, name, string(payload),
		int(opts.Priority), opts.MaxAttempts, now, opts.Delay.Milliseconds(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	if added == 0 {
		q.logger.Debugf("Skipped duplicate job %s for %s", name, data.Identifier)
		return "", nil
	}

	q.logger.Debugf("Enqueued %s job %s (identifier=%s, priority=%s)", name, id, data.Identifier, opts.Priority)
	return id, nil
}

// Claim atomically moves the best waiting job to active. Returns nil when
// nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	now := time.Now().UnixMilli()
	id, err := q.claimScript.Run(ctx, q.client,
		[]string{keyDelayed, keyWaiting, keyActive},
		now, jobKeyPrefix,
	).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return q.GetJob(ctx, id)
}

// Ack moves an active job to completed. Unknown IDs are silently dropped.
func (q *Queue) Ack(ctx context.Context, jobID string, result string) error {
	now := time.Now().UnixMilli()
	_, err := q.ackScript.Run(ctx, q.client,
		[]string{keyActive, keyCompleted, jobKeyPrefix + jobID, keyDedup},
		jobID, now, result, q.cfg.CompletedRetention, jobKeyPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	return nil
}

// Fail records a failed attempt. While attempts remain the job is parked in
// delayed with exponential backoff; otherwise it moves to failed. Unknown
// IDs are silently dropped.
func (q *Queue) Fail(ctx context.Context, jobID string, reason string) error {
	return q.fail(ctx, jobID, reason, false)
}

// FailFinal moves a job straight to failed regardless of attempts left.
// Used for terminal outcomes such as an open circuit or invalid input.
func (q *Queue) FailFinal(ctx context.Context, jobID string, reason string) error {
	return q.fail(ctx, jobID, reason, true)
}

func (q *Queue) fail(ctx context.Context, jobID, reason string, final bool) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil // obliterated mid-flight
	}

	finalFlag := "0"
	if final {
		finalFlag = "1"
	}

	now := time.Now().UnixMilli()
	delay := q.retryDelay(job.AttemptsMade)

	res, err := q.failScript.Run(ctx, q.client,
		[]string{keyActive, keyDelayed, keyFailed, jobKeyPrefix + jobID, keyDedup},
		jobID, now, reason, delay.Milliseconds(), finalFlag, q.cfg.CompletedRetention, jobKeyPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}

	switch res {
	case 1:
		q.logger.Debugf("Job %s delayed %v (attempt %d/%d): %s", jobID, delay, job.AttemptsMade, job.MaxAttempts, reason)
	case 2:
		q.logger.Warnf("Job %s failed after %d attempts: %s", jobID, job.AttemptsMade, reason)
	}
	return nil
}

// retryDelay computes the backoff before the next attempt: base doubled per
// prior attempt with jitter, capped.
func (q *Queue) retryDelay(attemptsMade int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BackoffBase
	b.Multiplier = 2
	b.MaxInterval = q.cfg.BackoffCap
	b.RandomizationFactor = 0.2

	delay := b.NextBackOff()
	for i := 1; i < attemptsMade; i++ {
		delay = b.NextBackOff()
	}
	if delay > q.cfg.BackoffCap {
		delay = q.cfg.BackoffCap
	}
	return delay
}

// GetJob loads a job by ID; nil when the queue no longer knows it.
func (q *Queue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	vals, err := q.client.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return jobFromHash(vals), nil
}

func jobFromHash(vals map[string]string) *models.Job {
	job := &models.Job{
		ID:           vals["id"],
		Name:         vals["name"],
		State:        models.JobState(vals["state"]),
		FailedReason: vals["failed_reason"],
		Result:       vals["result"],
	}

	_ = json.Unmarshal([]byte(vals["data"]), &job.Data)

	if p, err := strconv.Atoi(vals["priority"]); err == nil {
		job.Priority = models.JobPriority(p)
	}
	if n, err := strconv.Atoi(vals["attempts_made"]); err == nil {
		job.AttemptsMade = n
	}
	if n, err := strconv.Atoi(vals["max_attempts"]); err == nil {
		job.MaxAttempts = n
	}
	if ms, err := strconv.ParseInt(vals["queued_at"], 10, 64); err == nil {
		job.QueuedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(vals["processed_on"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.ProcessedOn = &t
	}
	if ms, err := strconv.ParseInt(vals["finished_on"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.FinishedOn = &t
	}
	if ms, err := strconv.ParseInt(vals["delayed_until"], 10, 64); err == nil {
		t := time.UnixMilli(ms)
		job.DelayedUntil = &t
	}
	return job
}

// Counts returns the per-state job tally.
func (q *Queue) Counts(ctx context.Context) (models.QueueCounts, error) {
	var counts models.QueueCounts

	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, keyWaiting)
	active := pipe.ZCard(ctx, keyActive)
	delayed := pipe.ZCard(ctx, keyDelayed)
	completed := pipe.LLen(ctx, keyCompleted)
	failed := pipe.LLen(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return counts, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts.Waiting = waiting.Val()
	counts.Active = active.Val()
	counts.Delayed = delayed.Val()
	counts.Completed = completed.Val()
	counts.Failed = failed.Val()
	return counts, nil
}

// List returns up to limit jobs in the given state, newest terminal jobs
// first, waiting jobs in dispatch order.
func (q *Queue) List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 20
	}

	var ids []string
	var err error
	switch state {
	case models.JobStateWaiting:
		ids, err = q.client.ZRange(ctx, keyWaiting, 0, int64(limit-1)).Result()
	case models.JobStateActive:
		ids, err = q.client.ZRange(ctx, keyActive, 0, int64(limit-1)).Result()
	case models.JobStateDelayed:
		ids, err = q.client.ZRange(ctx, keyDelayed, 0, int64(limit-1)).Result()
	case models.JobStateCompleted:
		ids, err = q.client.LRange(ctx, keyCompleted, 0, int64(limit-1)).Result()
	case models.JobStateFailed:
		ids, err = q.client.LRange(ctx, keyFailed, 0, int64(limit-1)).Result()
	default:
		return nil, fmt.Errorf("unknown job state: %s", state)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// StuckActiveCount counts active jobs whose claim is older than the given
// threshold. The queue never kills them; the control plane surfaces them.
func (q *Queue) StuckActiveCount(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	n, err := q.client.ZCount(ctx, keyActive, "-inf", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count stuck jobs: %w", err)
	}
	return int(n), nil
}

// Obliterate removes all jobs regardless of state. In-flight workers keep
// executing, but their eventual ack/fail hits unknown IDs and becomes a
// no-op. Returns the number of jobs removed.
func (q *Queue) Obliterate(ctx context.Context) (int, error) {
	removed := 0
	iter := q.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := q.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to obliterate queue: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to obliterate queue: %w", err)
	}

	if err := q.client.Del(ctx, keyWaiting, keyDelayed, keyActive, keyCompleted, keyFailed, keyDedup, keySeq).Err(); err != nil {
		return removed, fmt.Errorf("failed to obliterate queue: %w", err)
	}

	q.logger.Warnf("Queue obliterated: %d jobs removed", removed)
	return removed, nil
}

// WorkerStatus summarizes consumer liveness from heartbeat keys.
func (q *Queue) WorkerStatus(ctx context.Context) (models.WorkerStatus, error) {
	var status models.WorkerStatus

	workers := 0
	iter := q.client.Scan(ctx, 0, workerPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		workers++
	}
	if err := iter.Err(); err != nil {
		return status, fmt.Errorf("failed to scan worker heartbeats: %w", err)
	}

	paused, err := q.client.Exists(ctx, keyPaused).Result()
	if err != nil {
		return status, fmt.Errorf("failed to read pause flag: %w", err)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		return status, err
	}

	status.Workers = workers
	status.IsAlive = workers > 0
	status.IsPaused = paused > 0
	status.IsRunning = workers > 0 && counts.Active > 0
	return status, nil
}

// Heartbeat refreshes one consumer's liveness key.
func (q *Queue) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	return q.client.Set(ctx, workerPrefix+workerID, "alive", ttl).Err()
}

// RemoveHeartbeat drops one consumer's liveness key on shutdown.
func (q *Queue) RemoveHeartbeat(ctx context.Context, workerID string) error {
	return q.client.Del(ctx, workerPrefix+workerID).Err()
}

// IsQueued reports whether a (name, identifier) pair is pending in
// waiting, active or delayed.
func (q *Queue) IsQueued(ctx context.Context, name, identifier string) (bool, error) {
	ok, err := q.client.SIsMember(ctx, keyDedup, name+"|"+identifier).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup set: %w", err)
	}
	return ok, nil
}
