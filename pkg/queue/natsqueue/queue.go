package natsqueue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
)

const (
	StreamName    = "TASKS"
	ClaimBucket   = "TASK_CLAIMS"
	subjectPrefix = "tasks."
	durablePrefix = "worker-"
	dedupWindow   = 2 * time.Minute
	claimTTL      = 24 * time.Hour // frees keys of tasks lost with their stream
)

// Queue keeps tasks in a JetStream work-queue stream. A unique key is claimed in a KV bucket for
// as long as its task waits to run. Delays ride in the task body and are enforced with
// NakWithDelay on receipt.
type Queue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	claims   jetstream.KeyValue
	logger   logger.ILogger
	handlers map[string]queue.Handler
	ackWait  time.Duration

	mu       sync.Mutex
	consumes []jetstream.ConsumeContext
}

var _ queue.Queue = (*Queue)(nil)

// New connects and ensures the task stream. ackWait should exceed the longest task timeout.
func New(ctx context.Context, url string, ackWait time.Duration, log logger.ILogger) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: dedupWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	claims, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  ClaimBucket,
		TTL:     claimTTL,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure key bucket %s: %w", ClaimBucket, err)
	}

	if ackWait <= 0 {
		ackWait = 30 * time.Minute
	}
	return &Queue{nc: nc, js: js, claims: claims, logger: log, handlers: map[string]queue.Handler{}, ackWait: ackWait}, nil
}

func (q *Queue) Handle(kind string, h queue.Handler) {
	q.handlers[kind] = h
}

func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, opts ...queue.Option) error {
	o := queue.ApplyOptions(opts...)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	task := queue.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		Attempt:     1,
		MaxAttempts: o.MaxAttempts,
		UniqueKey:   o.UniqueKey,
		NotBefore:   time.Now().Add(o.Delay).UTC(),
	}
	claimed, err := q.claim(ctx, task)
	if err != nil || !claimed {
		return err
	}
	if err := q.publish(ctx, task); err != nil {
		q.release(context.WithoutCancel(ctx), task)
		return err
	}
	return nil
}

// publish sends one message per attempt. The message id only guards against a client-side
// republish of that same attempt.
func (q *Queue) publish(ctx context.Context, task queue.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	msgID := task.ID + "." + strconv.Itoa(task.Attempt)
	if _, err := q.js.Publish(ctx, subjectPrefix+task.Kind, body, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish task to subject %s: %w", subjectPrefix+task.Kind, err)
	}
	return nil
}

// claim reserves the task's unique key; false means a task with that key is already waiting.
func (q *Queue) claim(ctx context.Context, task queue.Task) (bool, error) {
	if task.UniqueKey == "" {
		return true, nil
	}
	_, err := q.claims.Create(ctx, claimKey(task.UniqueKey), []byte(task.ID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jetstream.ErrKeyExists):
		q.logger.Debug("QUEUE", "Duplicate task dropped", map[string]interface{}{
			"kind":       task.Kind,
			"unique_key": task.UniqueKey,
			"attempt":    task.Attempt,
		})
		return false, nil
	default:
		return false, fmt.Errorf("claim unique key %s: %w", task.UniqueKey, err)
	}
}

func (q *Queue) release(ctx context.Context, task queue.Task) {
	if task.UniqueKey == "" {
		return
	}
	if err := q.claims.Delete(ctx, claimKey(task.UniqueKey)); err != nil {
		q.logger.Warn("QUEUE", "Failed to release unique key", map[string]interface{}{
			"unique_key": task.UniqueKey,
			"error":      err.Error(),
		})
	}
}

// claimKey maps a unique key onto the KV key alphabet.
func claimKey(uniqueKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(uniqueKey))
}

// Run starts one durable consumer per registered kind and blocks until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for kind, h := range q.handlers {
		consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       durablePrefix + strings.ReplaceAll(kind, ".", "_"),
			FilterSubject: subjectPrefix + kind,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       q.ackWait,
			MaxDeliver:    -1,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer for %s: %w", kind, err)
		}
		handler := h
		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			q.process(ctx, msg, handler)
		})
		if err != nil {
			return fmt.Errorf("failed to start consuming %s: %w", kind, err)
		}
		q.mu.Lock()
		q.consumes = append(q.consumes, cc)
		q.mu.Unlock()
		q.logger.Info("QUEUE", "Consumer started", map[string]interface{}{"kind": kind})
	}
	<-ctx.Done()
	q.stop()
	return nil
}

func (q *Queue) process(ctx context.Context, msg jetstream.Msg, h queue.Handler) {
	var task queue.Task
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		q.logger.Error("QUEUE", "Undecodable task dropped", map[string]interface{}{
			"subject": msg.Subject(),
			"error":   err.Error(),
		})
		_ = msg.Term()
		return
	}

	if wait := time.Until(task.NotBefore); wait > 0 {
		_ = msg.NakWithDelay(wait)
		return
	}

	q.release(ctx, task)
	err := h(ctx, task)
	if err == nil {
		_ = msg.Ack()
		return
	}

	details := map[string]interface{}{
		"kind":    task.Kind,
		"task":    task.ID,
		"attempt": task.Attempt,
		"error":   err.Error(),
	}
	if !queue.ShouldRetry(task, err) {
		q.logger.Error("QUEUE", "Task failed", details)
		_ = msg.Term()
		return
	}

	// The retry is a fresh message carrying the next attempt number.
	delay := queue.RetryDelay(task.Attempt)
	task.Attempt++
	task.NotBefore = time.Now().Add(delay).UTC()
	details["retry_in"] = delay.String()
	q.logger.Warn("QUEUE", "Task attempt failed", details)

	pubCtx := context.WithoutCancel(ctx)
	claimed, err := q.claim(pubCtx, task)
	if err == nil && !claimed {
		_ = msg.Ack()
		return
	}
	if err != nil {
		q.logger.Warn("QUEUE", "Retrying without unique key claim", map[string]interface{}{
			"task":  task.ID,
			"error": err.Error(),
		})
	}
	if pubErr := q.publish(pubCtx, task); pubErr != nil {
		q.logger.Error("QUEUE", "Retry publish failed", map[string]interface{}{
			"task":  task.ID,
			"error": pubErr.Error(),
		})
		_ = msg.NakWithDelay(delay)
		return
	}
	_ = msg.Ack()
}

func (q *Queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cc := range q.consumes {
		cc.Stop()
	}
	q.consumes = nil
}

func (q *Queue) Close() error {
	q.stop()
	if q.nc == nil {
		return errors.New("natsqueue: not connected")
	}
	return q.nc.Drain()
}
