package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrTimeout = errors.New("queue timeout")

const DefaultQueueName = "custom_domain_checks"

// VerificationJob asks a worker to run one verification pass for a domain
// outside the regular schedule.
type VerificationJob struct {
	ID        string    `json:"id"`
	DomainID  uuid.UUID `json:"domain_id"`
	Reason    string    `json:"reason"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

func NewVerificationJob(domainID uuid.UUID, reason string) *VerificationJob {
	return &VerificationJob{
		ID:        uuid.New().String(),
		DomainID:  domainID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client, queueName string) *RedisQueue {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisQueue{
		client:    client,
		queueName: queueName,
	}
}

// Push enqueues a job. Jobs without a priority are ordered by creation time.
func (q *RedisQueue) Push(ctx context.Context, job *VerificationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Lower score pops first
	score := float64(job.Priority)
	if score == 0 {
		score = float64(job.CreatedAt.UnixMilli())
	}

	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  score,
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*VerificationJob, error) {
	result, err := q.client.BZPopMin(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	member, ok := result.Member.(string)
	if !ok {
		return nil, errors.New("invalid result from queue")
	}

	var job VerificationJob
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}
