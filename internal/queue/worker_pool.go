package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// Handler executes one claimed job. A nil error acks the job; a returned
// error fails it (terminally when the error is marked terminal).
type Handler func(ctx context.Context, job *models.Job) (interface{}, error)

// TerminalError wraps an error whose job must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal marks an error so the pool fails the job without retries.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// WorkerPool runs a configurable number of consumer loops over the queue,
// dispatching each claimed job to the handler registered for its name.
// Handlers never crash the loop: panics and errors are reported via fail.
type WorkerPool struct {
	queue       *Queue
	handlers    map[string]Handler
	concurrency int
	poll        time.Duration
	logger      *logger.Logger
	id          string

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewWorkerPool creates a pool with the given concurrency and claim poll
// interval.
func NewWorkerPool(q *Queue, concurrency int, poll time.Duration, log *logger.Logger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &WorkerPool{
		queue:       q,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		poll:        poll,
		logger:      log.WithComponent("worker-pool"),
		id:          uuid.NewString(),
		stopChan:    make(chan struct{}),
	}
}

// Register binds a job name to its handler. Must be called before Start.
func (p *WorkerPool) Register(name string, handler Handler) {
	p.handlers[name] = handler
}

// Start launches the consumer loops and the heartbeat.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn("Worker pool already running")
		return
	}
	p.running = true
	p.mu.Unlock()

	p.logger.Infof("Starting worker pool: %d workers, poll interval %v", p.concurrency, p.poll)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.heartbeatLoop(ctx)
	}()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(workerNum int) {
			defer p.wg.Done()
			p.consumerLoop(ctx, workerNum)
		}(i)
	}
}

// Stop shuts the pool down and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool...")
	close(p.stopChan)
	p.wg.Wait()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.RemoveHeartbeat(cleanupCtx, p.id); err != nil {
		p.logger.WithError(err).Warn("Failed to remove worker heartbeat")
	}
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	beat := func() {
		if err := p.queue.Heartbeat(ctx, p.id, 30*time.Second); err != nil {
			p.logger.WithError(err).Warn("Heartbeat failed")
		}
	}
	beat()

	for {
		select {
		case <-ticker.C:
			beat()
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) consumerLoop(ctx context.Context, workerNum int) {
	log := p.logger.WithComponent(fmt.Sprintf("worker-%d", workerNum))

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to claim job")
			p.sleep(p.poll)
			continue
		}
		if job == nil {
			p.sleep(p.poll)
			continue
		}

		p.process(ctx, log, job)
	}
}

// process dispatches one job, converting every failure mode (missing
// handler, panic, handler error) into a queue fail.
func (p *WorkerPool) process(ctx context.Context, log *logger.Logger, job *models.Job) {
	handler, ok := p.handlers[job.Name]
	if !ok {
		log.Errorf("No handler registered for job %s (%s)", job.ID, job.Name)
		if err := p.queue.FailFinal(ctx, job.ID, "no handler for "+job.Name); err != nil {
			log.WithError(err).Error("Failed to report unroutable job")
		}
		return
	}

	log.Debugf("Processing job %s (%s, attempt %d/%d)", job.ID, job.Name, job.AttemptsMade, job.MaxAttempts)

	result, err := p.runHandler(ctx, handler, job)
	if err != nil {
		var terminal *TerminalError
		if errors.As(err, &terminal) {
			if failErr := p.queue.FailFinal(ctx, job.ID, err.Error()); failErr != nil {
				log.WithError(failErr).Errorf("Failed to report terminal failure for job %s", job.ID)
			}
		} else {
			if failErr := p.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
				log.WithError(failErr).Errorf("Failed to report failure for job %s", job.ID)
			}
		}
		return
	}

	payload := ""
	if result != nil {
		if b, marshalErr := json.Marshal(result); marshalErr == nil {
			payload = string(b)
		}
	}
	if ackErr := p.queue.Ack(ctx, job.ID, payload); ackErr != nil {
		log.WithError(ackErr).Errorf("Failed to ack job %s", job.ID)
	}
}

func (p *WorkerPool) runHandler(ctx context.Context, handler Handler, job *models.Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopChan:
	}
}
