package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/config"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/metrics"
	"github.com/leozw/custom-domains/internal/queue"
)

type DomainLister interface {
	ListDomainsToVerify(ctx context.Context, limit int) ([]*core.CustomDomain, error)
}

type Checker interface {
	Check(ctx context.Context, id uuid.UUID) (*core.CustomDomain, error)
}

// JobSource yields manually requested verification jobs.
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.VerificationJob, error)
}

// Backlog is implemented by job sources that can report how many jobs
// are still waiting to be popped.
type Backlog interface {
	Length(ctx context.Context) (int64, error)
}

type CheckJob struct {
	DomainID uuid.UUID
	Domain   string
	Reason   string
}

type Scheduler struct {
	repo    DomainLister
	checker Checker
	jobs    JobSource
	metrics *metrics.Collector
	logger  *zap.Logger
	config  config.VerificationConfig
	workers []*Worker
	wg      sync.WaitGroup
}

func NewScheduler(repo DomainLister, checker Checker, jobs JobSource, m *metrics.Collector, logger *zap.Logger, cfg config.VerificationConfig) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Scheduler{
		repo:    repo,
		checker: checker,
		jobs:    jobs,
		metrics: m,
		logger:  logger,
		config:  cfg,
	}
}

// Start runs the worker pool until ctx is cancelled. Pending domains are
// scheduled once at start and then on every interval tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Int("worker_count", s.config.WorkerCount),
		zap.Duration("interval", s.config.Interval),
	)

	workQueue := make(chan *CheckJob, s.config.BatchSize*2)
	s.workers = make([]*Worker, s.config.WorkerCount)

	for i := 0; i < s.config.WorkerCount; i++ {
		worker := NewWorker(i, workQueue, s.checker, s.config.CheckTimeout, s.logger)
		s.workers[i] = worker
		s.wg.Add(1)
		go func(w *Worker) {
			defer s.wg.Done()
			w.Start(ctx)
		}(worker)
	}

	var feeder sync.WaitGroup
	if s.jobs != nil {
		feeder.Add(1)
		go func() {
			defer feeder.Done()
			s.consumeJobs(ctx, workQueue)
		}()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.scheduleChecks(ctx, workQueue)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler")
			feeder.Wait()
			close(workQueue)
			s.wg.Wait()
			return
		case <-ticker.C:
			s.scheduleChecks(ctx, workQueue)
		}
	}
}

func (s *Scheduler) scheduleChecks(ctx context.Context, workQueue chan<- *CheckJob) {
	domains, err := s.repo.ListDomainsToVerify(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Failed to get domains to verify", zap.Error(err))
		return
	}
	s.metrics.SetPendingDomains(len(domains))

	for _, d := range domains {
		job := &CheckJob{DomainID: d.ID, Domain: d.Domain, Reason: "scheduled"}

		select {
		case workQueue <- job:
			s.logger.Debug("Scheduled verification",
				zap.String("domain_id", d.ID.String()),
				zap.String("domain", d.Domain),
			)
		default:
			s.logger.Warn("Work queue full, dropping verification",
				zap.String("domain_id", d.ID.String()),
				zap.String("domain", d.Domain),
			)
		}
	}
	s.reportQueueDepth(ctx, len(workQueue))
}

// reportQueueDepth publishes the jobs waiting for a worker plus the jobs
// still held by the job source.
func (s *Scheduler) reportQueueDepth(ctx context.Context, queued int) {
	depth := queued
	if b, ok := s.jobs.(Backlog); ok {
		n, err := b.Length(ctx)
		if err != nil {
			s.logger.Warn("Failed to read verification job backlog", zap.Error(err))
		} else {
			depth += int(n)
		}
	}
	s.metrics.SetQueueDepth(depth)
}

// consumeJobs moves manual jobs from the redis queue onto the work queue.
func (s *Scheduler) consumeJobs(ctx context.Context, workQueue chan<- *CheckJob) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.jobs.Pop(ctx, 5*time.Second)
		if errors.Is(err, queue.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to pop verification job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case workQueue <- &CheckJob{DomainID: job.DomainID, Reason: job.Reason}:
			s.logger.Debug("Queued requested verification",
				zap.String("job_id", job.ID),
				zap.String("domain_id", job.DomainID.String()),
				zap.String("reason", job.Reason),
			)
			s.reportQueueDepth(ctx, len(workQueue))
		case <-ctx.Done():
			return
		}
	}
}
