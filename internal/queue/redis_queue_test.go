package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "")
}

func TestPushPopOrdersByCreation(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	first := NewVerificationJob(uuid.New(), "manual")
	second := NewVerificationJob(uuid.New(), "reregister")
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	require.NoError(t, q.Push(ctx, second))
	require.NoError(t, q.Push(ctx, first))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.DomainID, job.DomainID)
	assert.Equal(t, "manual", job.Reason)

	job, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.DomainID, job.DomainID)
}

func TestPriorityJumpsAhead(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	normal := NewVerificationJob(uuid.New(), "manual")
	urgent := NewVerificationJob(uuid.New(), "manual")
	urgent.Priority = 1

	require.NoError(t, q.Push(ctx, normal))
	require.NoError(t, q.Push(ctx, urgent))

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, job.ID)
}

func TestPopEmptyTimesOut(t *testing.T) {
	q := newQueue(t)

	_, err := q.Pop(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}
