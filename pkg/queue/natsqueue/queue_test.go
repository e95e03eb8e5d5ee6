package natsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
)

// fakeStream keeps published messages in memory. Embedded interfaces panic on any method the
// queue is not expected to call.
type fakeStream struct {
	jetstream.JetStream
	mu     sync.Mutex
	bodies [][]byte
}

func (f *fakeStream) Publish(_ context.Context, _ string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, payload)
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.bodies))}, nil
}

func (f *fakeStream) next(t *testing.T) *fakeMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.bodies, "no message published")
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	return &fakeMsg{data: body}
}

func (f *fakeStream) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

type fakeClaims struct {
	jetstream.KeyValue
	mu   sync.Mutex
	keys map[string][]byte
}

func (f *fakeClaims) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	f.keys[key] = value
	return uint64(len(f.keys)), nil
}

func (f *fakeClaims) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

type fakeMsg struct {
	jetstream.Msg
	data          []byte
	acked, termed bool
	nakDelay      time.Duration
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "tasks.test" }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Term() error     { m.termed = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.nakDelay = d
	return nil
}

func newFakeQueue() (*Queue, *fakeStream, *fakeClaims) {
	stream := &fakeStream{}
	claims := &fakeClaims{keys: map[string][]byte{}}
	q := &Queue{js: stream, claims: claims, logger: logger.NewNopLogger(), handlers: map[string]queue.Handler{}}
	return q, stream, claims
}

func TestQueue_UniqueKeyHeldOnlyWhileWaiting(t *testing.T) {
	q, stream, claims := newFakeQueue()
	ctx := context.Background()
	var runs int
	handler := func(context.Context, queue.Task) error {
		runs++
		return nil
	}

	require.NoError(t, q.Enqueue(ctx, "document.index", 1, queue.WithUniqueKey("index:42")))
	require.NoError(t, q.Enqueue(ctx, "document.index", 2, queue.WithUniqueKey("index:42")))
	assert.Equal(t, 1, stream.pending(), "second enqueue dropped while the first waits")

	msg := stream.next(t)
	q.process(ctx, msg, handler)
	assert.True(t, msg.acked)
	assert.Equal(t, 1, runs)
	assert.Empty(t, claims.keys)

	// A reindex right after completion is accepted.
	require.NoError(t, q.Enqueue(ctx, "document.index", 3, queue.WithUniqueKey("index:42")))
	require.Equal(t, 1, stream.pending())
	q.process(ctx, stream.next(t), handler)
	assert.Equal(t, 2, runs)
}

func TestQueue_EnqueueDuringRunIsKept(t *testing.T) {
	q, stream, _ := newFakeQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "document.index", 1, queue.WithUniqueKey("index:42")))
	first := stream.next(t)
	q.process(ctx, first, func(ctx context.Context, _ queue.Task) error {
		return q.Enqueue(ctx, "document.index", 2, queue.WithUniqueKey("index:42"))
	})
	assert.True(t, first.acked)
	assert.Equal(t, 1, stream.pending())
}

func TestQueue_FailedTaskReleasesKeyAndRetriesClaimAgain(t *testing.T) {
	q, stream, claims := newFakeQueue()
	ctx := context.Background()
	boom := errors.New("ollama unavailable")

	require.NoError(t, q.Enqueue(ctx, "document.chunk", 1, queue.WithUniqueKey("chunk:1"), queue.WithMaxAttempts(2)))
	first := stream.next(t)
	q.process(ctx, first, func(context.Context, queue.Task) error { return boom })
	assert.True(t, first.acked)
	require.Equal(t, 1, stream.pending(), "retry published")
	assert.Len(t, claims.keys, 1, "retry holds the key")

	retry := stream.next(t)
	var task queue.Task
	require.NoError(t, jsonDecode(retry.data, &task))
	assert.Equal(t, 2, task.Attempt)

	// Last attempt fails too: terminated and the key is free again.
	task.NotBefore = time.Time{}
	retry.data = jsonEncode(t, task)
	q.process(ctx, retry, func(context.Context, queue.Task) error { return boom })
	assert.True(t, retry.termed)
	assert.Empty(t, claims.keys)
	assert.Zero(t, stream.pending())

	require.NoError(t, q.Enqueue(ctx, "document.chunk", 1, queue.WithUniqueKey("chunk:1")))
	assert.Equal(t, 1, stream.pending())
}

func TestQueue_RetryYieldsToNewerTask(t *testing.T) {
	q, stream, _ := newFakeQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "document.chunk", "old", queue.WithUniqueKey("chunk:1")))
	first := stream.next(t)
	q.process(ctx, first, func(ctx context.Context, _ queue.Task) error {
		require.NoError(t, q.Enqueue(ctx, "document.chunk", "new", queue.WithUniqueKey("chunk:1")))
		return errors.New("timeout")
	})
	assert.True(t, first.acked)
	require.Equal(t, 1, stream.pending())

	var task queue.Task
	require.NoError(t, jsonDecode(stream.next(t).data, &task))
	var label string
	require.NoError(t, task.Decode(&label))
	assert.Equal(t, "new", label)
	assert.Equal(t, 1, task.Attempt)
}

func TestQueue_DelayedTaskIsNakedUntilDue(t *testing.T) {
	q, stream, claims := newFakeQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "webhook.deliver", 1, queue.WithUniqueKey("d:1"), queue.WithDelay(time.Minute)))
	msg := stream.next(t)
	q.process(ctx, msg, func(context.Context, queue.Task) error {
		t.Fatal("ran before its delay")
		return nil
	})
	assert.Greater(t, msg.nakDelay, 50*time.Second)
	assert.Len(t, claims.keys, 1, "still waiting")
}

func TestClaimKey(t *testing.T) {
	valid := regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)
	a := claimKey("index:" + uuid.NewString())
	b := claimKey("extract:" + uuid.NewString())
	assert.Regexp(t, valid, a)
	assert.Regexp(t, valid, b)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, claimKey("a:b"), claimKey("a_b"))
}

func TestQueue_Integration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	q, err := New(ctx, url, time.Minute, logger.NewNopLogger())
	require.NoError(t, err)
	defer q.Close()

	kind := "itest." + uuid.NewString()[:8]
	got := make(chan queue.Task, 4)
	q.Handle(kind, func(_ context.Context, task queue.Task) error {
		got <- task
		return nil
	})

	key := "unique:" + uuid.NewString()
	require.NoError(t, q.Enqueue(ctx, kind, map[string]int{"n": 1}, queue.WithUniqueKey(key)))
	require.NoError(t, q.Enqueue(ctx, kind, map[string]int{"n": 2}, queue.WithUniqueKey(key)))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = q.Run(runCtx) }()

	select {
	case task := <-got:
		var payload map[string]int
		require.NoError(t, task.Decode(&payload))
		assert.Equal(t, 1, payload["n"])
	case <-ctx.Done():
		t.Fatal("task not delivered")
	}
	select {
	case <-got:
		t.Fatal("duplicate task delivered")
	case <-time.After(time.Second):
	}

	// The finished task no longer holds the key.
	require.NoError(t, q.Enqueue(ctx, kind, map[string]int{"n": 3}, queue.WithUniqueKey(key)))
	select {
	case task := <-got:
		var payload map[string]int
		require.NoError(t, task.Decode(&payload))
		assert.Equal(t, 3, payload["n"])
	case <-ctx.Done():
		t.Fatal("re-enqueued task not delivered")
	}
}

func jsonDecode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func jsonEncode(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
