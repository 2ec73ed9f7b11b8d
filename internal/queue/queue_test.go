package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleetroute/dispatch/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	id, ok := q.Dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "a", id)

	id, ok = q.Dequeue(ctx)
	require.True(t, ok)
	require.Equal(t, "b", id)
}

func TestEnqueueBlocksWhenFullAndDeadlineExpires(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, "b")
	require.ErrorIs(t, err, domain.ErrQueueFull)
}

func TestEnqueueUnblocksWhenSpaceFrees(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(context.Background(), "a"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, q.Enqueue(context.Background(), "b"))
	}()

	id, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, "a", id)

	wg.Wait()

	id, ok = q.Dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, "b", id)
}

func TestDequeueReturnsFalseOnClosedDrainedQueue(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(context.Background(), "a"))
	q.Close()

	id, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	require.Equal(t, "a", id)

	_, ok = q.Dequeue(context.Background())
	require.False(t, ok)
}

func TestLenReflectsDepth(t *testing.T) {
	q := New(4)
	require.Equal(t, 0, q.Len())
	require.NoError(t, q.Enqueue(context.Background(), "a"))
	require.Equal(t, 1, q.Len())
}
