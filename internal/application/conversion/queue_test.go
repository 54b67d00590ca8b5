package conversion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOAndCapacity(t *testing.T) {
	q := NewQueue(3)
	for i, id := range []string{"a", "b", "c"} {
		pos, err := q.Enqueue(id)
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	_, err := q.Enqueue("d")
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 3, q.Size())
	assert.True(t, q.Full())

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Size())
}

func TestQueue_DefaultCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, DefaultQueueCapacity, q.Capacity())
}

func TestQueue_DequeueWaitsForWork(t *testing.T) {
	q := NewQueue(2)
	got := make(chan string, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err == nil {
			got <- id
		}
	}()

	select {
	case id := <-got:
		t.Fatalf("dequeue returned %q before any enqueue", id)
	case <-time.After(30 * time.Millisecond):
	}

	_, err := q.Enqueue("late")
	require.NoError(t, err)

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueue_RemoveFreesSlot(t *testing.T) {
	q := NewQueue(2)
	_, _ = q.Enqueue("a")
	_, _ = q.Enqueue("b")
	assert.Equal(t, 2, q.Position("b"))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))
	assert.Equal(t, 1, q.Position("b"))
	assert.Equal(t, 0, q.Position("a"))

	_, err := q.Enqueue("c")
	require.NoError(t, err)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestQueue_ReserveHoldsSlot(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Reserve())
	_, err := q.Enqueue("a")
	require.NoError(t, err)

	assert.True(t, q.Full())
	assert.True(t, errors.Is(q.Reserve(), ErrQueueFull))
	_, err = q.Enqueue("b")
	assert.True(t, errors.Is(err, ErrQueueFull))

	assert.Equal(t, 2, q.Commit("c"))
	assert.Equal(t, 2, q.Size())
	assert.True(t, q.Full())
}

func TestQueue_ReleaseFreesSlot(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Reserve())
	assert.True(t, q.Full())
	assert.Equal(t, 0, q.Size())

	q.Release()
	assert.False(t, q.Full())
	q.Release()
	require.NoError(t, q.Reserve())
}
