package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/config"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/metrics"
	"github.com/leozw/custom-domains/internal/queue"
)

type fakeLister struct {
	domains []*core.CustomDomain
}

func (f *fakeLister) ListDomainsToVerify(_ context.Context, limit int) ([]*core.CustomDomain, error) {
	if len(f.domains) > limit {
		return f.domains[:limit], nil
	}
	return f.domains, nil
}

type recordingChecker struct {
	mu      sync.Mutex
	checked map[uuid.UUID]int
	done    chan uuid.UUID
}

func (c *recordingChecker) Check(_ context.Context, id uuid.UUID) (*core.CustomDomain, error) {
	c.mu.Lock()
	c.checked[id]++
	c.mu.Unlock()
	c.done <- id
	return &core.CustomDomain{ID: id}, nil
}

type oneJobSource struct {
	mu  sync.Mutex
	job *queue.VerificationJob
}

func (s *oneJobSource) Pop(ctx context.Context, _ time.Duration) (*queue.VerificationJob, error) {
	s.mu.Lock()
	job := s.job
	s.job = nil
	s.mu.Unlock()
	if job != nil {
		return job, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, queue.ErrTimeout
	}
}

func TestSchedulerDispatchesPendingAndRequestedDomains(t *testing.T) {
	lister := &fakeLister{}
	for i := 0; i < 3; i++ {
		lister.domains = append(lister.domains, &core.CustomDomain{ID: uuid.New(), Domain: "links.example.com"})
	}
	manual := queue.NewVerificationJob(uuid.New(), "manual")

	checker := &recordingChecker{checked: map[uuid.UUID]int{}, done: make(chan uuid.UUID, 16)}
	s := NewScheduler(lister, checker, &oneJobSource{job: manual},
		metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop(),
		config.VerificationConfig{WorkerCount: 2, Interval: time.Hour, BatchSize: 10, CheckTimeout: time.Second},
	)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(stopped)
	}()

	seen := map[uuid.UUID]bool{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 4 {
		select {
		case id := <-checker.done:
			seen[id] = true
		case <-timeout:
			t.Fatalf("only %d of 4 domains were checked", len(seen))
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	for _, d := range lister.domains {
		assert.True(t, seen[d.ID])
	}
	assert.True(t, seen[manual.DomainID])
	require.Len(t, s.workers, 2)
}

func TestSchedulerRespectsBatchSize(t *testing.T) {
	lister := &fakeLister{}
	for i := 0; i < 5; i++ {
		lister.domains = append(lister.domains, &core.CustomDomain{ID: uuid.New()})
	}
	s := NewScheduler(lister, nil, nil, metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop(),
		config.VerificationConfig{BatchSize: 2})

	work := make(chan *CheckJob, 10)
	s.scheduleChecks(context.Background(), work)
	assert.Len(t, work, 2)
}

func TestSchedulerDropsWhenQueueFull(t *testing.T) {
	lister := &fakeLister{domains: []*core.CustomDomain{{ID: uuid.New()}, {ID: uuid.New()}}}
	s := NewScheduler(lister, nil, nil, metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop(),
		config.VerificationConfig{BatchSize: 10})

	work := make(chan *CheckJob, 1)
	s.scheduleChecks(context.Background(), work)
	assert.Len(t, work, 1)
}

type backlogSource struct {
	oneJobSource
	waiting int64
}

func (s *backlogSource) Length(_ context.Context) (int64, error) {
	return s.waiting, nil
}

func TestQueueDepthIncludesJobBacklog(t *testing.T) {
	lister := &fakeLister{domains: []*core.CustomDomain{{ID: uuid.New()}, {ID: uuid.New()}}}
	reg := prometheus.NewRegistry()
	s := NewScheduler(lister, nil, &backlogSource{waiting: 7}, metrics.NewCollector(reg), zap.NewNop(),
		config.VerificationConfig{BatchSize: 10})

	work := make(chan *CheckJob, 10)
	s.scheduleChecks(context.Background(), work)

	expected := `
# HELP custom_domain_verification_queue_depth Verification jobs waiting in the job queue or for a worker
# TYPE custom_domain_verification_queue_depth gauge
custom_domain_verification_queue_depth 9
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "custom_domain_verification_queue_depth"))
}
