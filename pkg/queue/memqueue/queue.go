package memqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/patrickmn/go-cache"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
)

const topicPrefix = "tasks."

type Options struct {
	Workers    int // concurrent handlers per task kind
	RetryDelay func(attempt int) time.Duration
	UniqueTTL  time.Duration // upper bound on how long a unique key stays claimed
}

func DefaultOptions() Options {
	return Options{Workers: 4, RetryDelay: queue.RetryDelay, UniqueTTL: time.Hour}
}

// Queue runs tasks inside the process over a watermill gochannel. Nothing survives a restart.
type Queue struct {
	pubsub   *gochannel.GoChannel
	unique   *cache.Cache
	logger   logger.ILogger
	opts     Options
	handlers map[string]queue.Handler

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ queue.Queue = (*Queue)(nil)

func New(log logger.ILogger, opts Options) *Queue {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.RetryDelay == nil {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.UniqueTTL <= 0 {
		opts.UniqueTTL = def.UniqueTTL
	}
	return &Queue{
		// Persistent keeps tasks enqueued before Run subscribes.
		pubsub:   gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256, Persistent: true}, watermill.NopLogger{}),
		unique:   cache.New(opts.UniqueTTL, 10*time.Minute),
		logger:   log,
		opts:     opts,
		handlers: map[string]queue.Handler{},
		timers:   map[*time.Timer]struct{}{},
	}
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
		ID:          watermill.NewUUID(),
		Kind:        kind,
		Payload:     raw,
		Attempt:     1,
		MaxAttempts: o.MaxAttempts,
		UniqueKey:   o.UniqueKey,
		NotBefore:   time.Now().Add(o.Delay).UTC(),
	}
	if !q.claim(task) {
		return nil
	}
	if err := q.publish(task, o.Delay); err != nil {
		q.release(task)
		return err
	}
	return nil
}

func (q *Queue) publish(task queue.Task, delay time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	msg := message.NewMessage(task.ID, body)
	if delay <= 0 {
		return q.pubsub.Publish(topicPrefix+task.Kind, msg)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		if err := q.pubsub.Publish(topicPrefix+task.Kind, msg); err != nil {
			q.logger.Error("QUEUE", "Delayed publish failed", map[string]interface{}{
				"kind":  task.Kind,
				"task":  task.ID,
				"error": err.Error(),
			})
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Run consumes every registered kind until ctx is done, then waits for running handlers.
func (q *Queue) Run(ctx context.Context) error {
	for kind, h := range q.handlers {
		messages, err := q.pubsub.Subscribe(ctx, topicPrefix+kind)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		sem := make(chan struct{}, q.opts.Workers)
		q.wg.Add(1)
		go func(h queue.Handler) {
			defer q.wg.Done()
			for msg := range messages {
				sem <- struct{}{}
				q.wg.Add(1)
				go func(msg *message.Message) {
					defer q.wg.Done()
					defer func() { <-sem }()
					q.process(ctx, msg, h)
				}(msg)
			}
		}(h)
	}
	<-ctx.Done()
	q.wg.Wait()
	return nil
}

func (q *Queue) process(ctx context.Context, msg *message.Message, h queue.Handler) {
	msg.Ack()

	var task queue.Task
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		q.logger.Error("QUEUE", "Undecodable task dropped", map[string]interface{}{"error": err.Error()})
		return
	}

	q.release(task)
	err := h(ctx, task)
	if err == nil {
		return
	}

	details := map[string]interface{}{
		"kind":    task.Kind,
		"task":    task.ID,
		"attempt": task.Attempt,
		"error":   err.Error(),
	}
	if !queue.ShouldRetry(task, err) || ctx.Err() != nil {
		q.logger.Error("QUEUE", "Task failed", details)
		return
	}
	delay := q.opts.RetryDelay(task.Attempt)
	task.Attempt++
	task.NotBefore = time.Now().Add(delay).UTC()
	details["retry_in"] = delay.String()
	q.logger.Warn("QUEUE", "Task attempt failed", details)
	if !q.claim(task) {
		return
	}
	if err := q.publish(task, delay); err != nil {
		q.release(task)
	}
}

// claim reserves the task's unique key; false means a task with that key is already waiting.
func (q *Queue) claim(task queue.Task) bool {
	if task.UniqueKey == "" {
		return true
	}
	if err := q.unique.Add(task.UniqueKey, task.ID, cache.DefaultExpiration); err != nil {
		q.logger.Debug("QUEUE", "Duplicate task dropped", map[string]interface{}{
			"kind":       task.Kind,
			"unique_key": task.UniqueKey,
			"attempt":    task.Attempt,
		})
		return false
	}
	return true
}

func (q *Queue) release(task queue.Task) {
	if task.UniqueKey != "" {
		q.unique.Delete(task.UniqueKey)
	}
}

func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()
	return q.pubsub.Close()
}
