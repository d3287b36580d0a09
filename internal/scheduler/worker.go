package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
)

type Worker struct {
	id        int
	workQueue <-chan *CheckJob
	checker   Checker
	timeout   time.Duration
	logger    *zap.Logger
}

func NewWorker(id int, workQueue <-chan *CheckJob, checker Checker, timeout time.Duration, logger *zap.Logger) *Worker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		id:        id,
		workQueue: workQueue,
		checker:   checker,
		timeout:   timeout,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		case job, ok := <-w.workQueue:
			if !ok {
				w.logger.Info("Work queue closed")
				return
			}
			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *CheckJob) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	d, err := w.checker.Check(ctx, job.DomainID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			w.logger.Debug("Domain removed before verification", zap.String("domain_id", job.DomainID.String()))
			return
		}
		fields := []zap.Field{
			zap.String("domain_id", job.DomainID.String()),
			zap.String("reason", job.Reason),
			zap.Error(err),
		}
		if apperr.IsRetryable(err) {
			w.logger.Warn("Verification interrupted, retrying next cycle", fields...)
			return
		}
		w.logger.Error("Verification failed", fields...)
		return
	}
	if d == nil {
		return
	}

	w.logger.Debug("Verification completed",
		zap.String("domain_id", d.ID.String()),
		zap.String("domain", d.Domain),
		zap.String("ownership_status", string(d.OwnershipStatus)),
		zap.String("ssl_status", string(d.SSLStatus)),
		zap.Duration("duration", time.Since(start)),
	)
}
