package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/pkg/logger"
)

// SourceRepo is the repository surface a sweep needs per source.
type SourceRepo interface {
	FindItemsNeedingScraping(ctx context.Context) ([]models.ScrapeCandidate, error)
	FindNewIdentifiers(ctx context.Context) ([]string, error)
	FindAllActive(ctx context.Context) ([]models.ScrapeCandidate, error)
}

// SourceSpec binds one source's repository to its job name and URL shape.
type SourceSpec struct {
	Source   string
	JobName  string
	Repo     SourceRepo
	BuildURL func(c models.ScrapeCandidate) string
}

// JobQueue is the producer surface the scheduler needs.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, data models.JobData, opts queue.EnqueueOptions) (string, error)
}

// Scheduler periodically sweeps the source repositories for due and newly
// discovered items and enqueues scrape jobs. Both producer actions are
// idempotent: the queue deduplicates on (name, identifier).
type Scheduler struct {
	specs    []SourceSpec
	queue    JobQueue
	logger   *logger.Logger
	interval time.Duration
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewScheduler creates a scheduler over the given source specs.
func NewScheduler(specs []SourceSpec, q JobQueue, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		specs:    specs,
		queue:    q,
		logger:   log.WithComponent("scheduler"),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Scheduler already running")
		return
	}
	s.running = true
	s.ticker = time.NewTicker(s.interval)
	s.mu.Unlock()

	s.logger.Infof("Starting scheduler with sweep interval: %v", s.interval)

	// Run initial sweep
	go s.runSweep(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				s.runSweep(ctx)
			case <-s.stopChan:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()
}

func (s *Scheduler) runSweep(ctx context.Context) {
	startTime := time.Now()
	results, err := s.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled sweep failed")
		return
	}

	enqueued := 0
	for _, r := range results {
		enqueued += r.JobsEnqueued
		for _, e := range r.Errors {
			s.logger.Warnf("Sweep error for %s: %s", r.Source, e)
		}
	}
	s.logger.Infof("Sweep completed: enqueued=%d duration=%v", enqueued, time.Since(startTime))
}

// Sweep scans every source for items due (next_scrape_at has passed) or
// newly discovered (present in products, absent here) and enqueues jobs.
// Newly discovered items go out HIGH, items overdue by more than one
// interval MEDIUM, on-schedule refreshes NORMAL.
func (s *Scheduler) Sweep(ctx context.Context) ([]models.SweepResult, error) {
	return s.sweep(ctx, false)
}

// TriggerAll enqueues every active item regardless of intervals; the
// control plane calls it after an obliterate to repopulate the queue.
func (s *Scheduler) TriggerAll(ctx context.Context) ([]models.SweepResult, error) {
	return s.sweep(ctx, true)
}

func (s *Scheduler) sweep(ctx context.Context, everything bool) ([]models.SweepResult, error) {
	results := make([]models.SweepResult, 0, len(s.specs))

	for _, spec := range s.specs {
		result := models.SweepResult{Source: spec.Source}

		var candidates []models.ScrapeCandidate
		var err error
		if everything {
			candidates, err = spec.Repo.FindAllActive(ctx)
		} else {
			candidates, err = spec.Repo.FindItemsNeedingScraping(ctx)
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			results = append(results, result)
			continue
		}

		newIDs, err := spec.Repo.FindNewIdentifiers(ctx)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		seen := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			seen[c.Identifier] = true
		}
		for _, id := range newIDs {
			if !seen[id] {
				candidates = append(candidates, models.ScrapeCandidate{Identifier: id, IsNew: true})
			}
		}

		result.ItemsFound = len(candidates)
		result.Priorities = make(map[string]int)

		for _, c := range candidates {
			data := models.JobData{Identifier: c.Identifier, ItemType: c.ItemType}
			if spec.BuildURL != nil {
				data.URL = spec.BuildURL(c)
			}

			priority := priorityFor(c)
			jobID, err := s.queue.Enqueue(ctx, spec.JobName, data, queue.EnqueueOptions{
				Priority: priority,
			})
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.Identifier, err))
				continue
			}
			if jobID != "" {
				result.JobsEnqueued++
				result.Priorities[priority.String()]++
			}
		}

		results = append(results, result)
	}

	return results, nil
}

func priorityFor(c models.ScrapeCandidate) models.JobPriority {
	switch {
	case c.IsNew:
		return models.PriorityHigh
	case c.Overdue:
		return models.PriorityMedium
	default:
		return models.PriorityNormal
	}
}

// ForceScrape enqueues HIGH-priority jobs for specific identifiers across
// every scheduled source, bypassing interval and breaker checks.
func (s *Scheduler) ForceScrape(ctx context.Context, identifiers []string) (int, error) {
	enqueued := 0
	for _, id := range identifiers {
		for _, spec := range s.specs {
			c := models.ScrapeCandidate{Identifier: id}
			if spec.JobName == models.JobScrapeRetirement {
				// The tracker is one page; a single forced job refreshes
				// every set, including this one.
				c.Identifier = "all-themes"
			}

			data := models.JobData{Identifier: c.Identifier, Force: true}
			if spec.BuildURL != nil {
				data.URL = spec.BuildURL(c)
			}

			jobID, err := s.queue.Enqueue(ctx, spec.JobName, data, queue.EnqueueOptions{
				Priority: models.PriorityHigh,
			})
			if err != nil {
				return enqueued, fmt.Errorf("failed to enqueue force scrape for %s: %w", id, err)
			}
			if jobID != "" {
				enqueued++
			}
		}
	}

	s.logger.Infof("Force scrape enqueued %d jobs for %d identifiers", enqueued, len(identifiers))
	return enqueued, nil
}

// Stop stops the scheduler loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping scheduler...")
	close(s.stopChan)

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.wg.Wait()
	s.running = false
	s.logger.Info("Scheduler stopped successfully")
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
