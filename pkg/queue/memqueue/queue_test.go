package memqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
)

func fastQueue() *Queue {
	return New(logger.NewNopLogger(), Options{RetryDelay: func(int) time.Duration { return 5 * time.Millisecond }})
}

func run(t *testing.T, q *Queue) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = q.Close()
	})
	return cancel
}

func TestQueue_DeliversPayload(t *testing.T) {
	q := fastQueue()
	got := make(chan queue.Task, 1)
	q.Handle("document.extract", func(_ context.Context, task queue.Task) error {
		got <- task
		return nil
	})
	require.NoError(t, q.Enqueue(context.Background(), "document.extract", map[string]uint{"document_id": 42}))
	run(t, q)

	select {
	case task := <-got:
		var payload struct {
			DocumentID uint `json:"document_id"`
		}
		require.NoError(t, task.Decode(&payload))
		assert.Equal(t, uint(42), payload.DocumentID)
		assert.Equal(t, 1, task.Attempt)
		assert.Equal(t, queue.DefaultMaxAttempts, task.MaxAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("task not delivered")
	}
}

func TestQueue_RetriesUntilSuccess(t *testing.T) {
	q := fastQueue()
	var attempts []int
	var mu sync.Mutex
	done := make(chan struct{})
	q.Handle("flaky", func(_ context.Context, task queue.Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, task.Attempt)
		if task.Attempt < 3 {
			return errors.New("not yet")
		}
		close(done)
		return nil
	})
	run(t, q)
	require.NoError(t, q.Enqueue(context.Background(), "flaky", nil, queue.WithMaxAttempts(5)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestQueue_StopsAtMaxAttemptsAndPermanent(t *testing.T) {
	q := fastQueue()
	var plain, permanent int32
	q.Handle("plain", func(context.Context, queue.Task) error {
		atomic.AddInt32(&plain, 1)
		return errors.New("always")
	})
	q.Handle("permanent", func(context.Context, queue.Task) error {
		atomic.AddInt32(&permanent, 1)
		return queue.Permanent(errors.New("bad input"))
	})
	run(t, q)
	require.NoError(t, q.Enqueue(context.Background(), "plain", nil, queue.WithMaxAttempts(2)))
	require.NoError(t, q.Enqueue(context.Background(), "permanent", nil))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&plain))
	assert.Equal(t, int32(1), atomic.LoadInt32(&permanent))
}

func TestQueue_UniqueKeyDedupes(t *testing.T) {
	q := fastQueue()
	release := make(chan struct{})
	var calls int32
	q.Handle("unique", func(context.Context, queue.Task) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "unique", 1, queue.WithUniqueKey("extract:1")))
	require.NoError(t, q.Enqueue(ctx, "unique", 2, queue.WithUniqueKey("extract:1")))
	run(t, q)

	time.Sleep(100 * time.Millisecond)
	close(release)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// released after completion
	require.NoError(t, q.Enqueue(ctx, "unique", 3, queue.WithUniqueKey("extract:1")))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 10*time.Millisecond)
}

func TestQueue_UniqueKeyFreedWhenHandlerStarts(t *testing.T) {
	q := fastQueue()
	started := make(chan int, 4)
	release := make(chan struct{})
	q.Handle("document.index", func(_ context.Context, task queue.Task) error {
		var n int
		assert.NoError(t, task.Decode(&n))
		started <- n
		if n == 1 {
			<-release
		}
		return nil
	})
	run(t, q)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "document.index", 1, queue.WithUniqueKey("index:7")))
	require.Equal(t, 1, <-started)

	// Queued while the first run is still going: kept, and a second copy is still dropped.
	require.NoError(t, q.Enqueue(ctx, "document.index", 2, queue.WithUniqueKey("index:7"), queue.WithDelay(50*time.Millisecond)))
	require.NoError(t, q.Enqueue(ctx, "document.index", 3, queue.WithUniqueKey("index:7")))
	close(release)

	select {
	case n := <-started:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("task queued during a run was lost")
	}
	select {
	case n := <-started:
		t.Fatalf("duplicate task %d delivered", n)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestQueue_RetryYieldsToNewerTask(t *testing.T) {
	q := fastQueue()
	var mu sync.Mutex
	var seen []string
	running := make(chan struct{})
	requeued := make(chan struct{})
	q.Handle("document.chunk", func(_ context.Context, task queue.Task) error {
		var label string
		assert.NoError(t, task.Decode(&label))
		mu.Lock()
		seen = append(seen, label)
		mu.Unlock()
		if label == "old" {
			close(running)
			<-requeued
			return errors.New("llm timeout")
		}
		return nil
	})
	run(t, q)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "document.chunk", "old", queue.WithUniqueKey("chunk:9")))
	<-running

	// A newer task takes the key while "old" runs, so the failed run is not retried.
	require.NoError(t, q.Enqueue(ctx, "document.chunk", "new", queue.WithUniqueKey("chunk:9"), queue.WithDelay(20*time.Millisecond)))
	close(requeued)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, seen)
}

func TestQueue_Delay(t *testing.T) {
	q := fastQueue()
	got := make(chan time.Time, 1)
	q.Handle("later", func(context.Context, queue.Task) error {
		got <- time.Now()
		return nil
	})
	run(t, q)

	start := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), "later", nil, queue.WithDelay(80*time.Millisecond)))
	select {
	case at := <-got:
		assert.GreaterOrEqual(t, at.Sub(start), 80*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task not delivered")
	}
}
