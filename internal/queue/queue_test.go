package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	first := NewJob("doc-1", 1, "user-1", "eng")
	second := NewJob("doc-2", 1, "user-1", "deu")
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc-2", got.DocumentID)
	assert.Equal(t, "deu", got.Lang)
}

func TestMemoryQueueDequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob("d", 1, "u", "eng")), ErrClosed)
}

func TestNewJob(t *testing.T) {
	job := NewJob("doc", 3, "user", "eng")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.Version)
	assert.Zero(t, job.Attempts)
	assert.False(t, job.EnqueuedAt.IsZero())
}
