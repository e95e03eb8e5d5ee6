package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const DefaultMaxAttempts = 3

// Task is one unit of work as seen by a handler.
type Task struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"` // 1-based
	MaxAttempts int             `json:"max_attempts"`
	UniqueKey   string          `json:"unique_key,omitempty"`
	NotBefore   time.Time       `json:"not_before"`
}

func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

type Options struct {
	Delay       time.Duration
	UniqueKey   string
	MaxAttempts int
}

type Option func(*Options)

func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithUniqueKey drops the enqueue while a task with the same key is waiting to run. The key is
// freed once a handler picks the task up, so work enqueued during a run is kept. A retry claims
// the key again and is dropped when a newer task already holds it.
func WithUniqueKey(key string) Option {
	return func(o *Options) {
		o.UniqueKey = key
	}
}

func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

func ApplyOptions(opts ...Option) Options {
	o := Options{MaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

type Handler func(ctx context.Context, task Task) error

type taskContextKey struct{}

// WithTask attaches the running task to ctx.
func WithTask(ctx context.Context, t Task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, t)
}

func TaskFromContext(ctx context.Context) (Task, bool) {
	t, ok := ctx.Value(taskContextKey{}).(Task)
	return t, ok
}

// LastAttempt reports whether a failure under ctx will not be retried. Work running outside
// any task has no retry.
func LastAttempt(ctx context.Context) bool {
	t, ok := TaskFromContext(ctx)
	if !ok {
		return true
	}
	return t.Attempt >= t.MaxAttempts
}

// Queue delivers each task at least once to the handler registered for its kind. A failing
// handler gets the task again after RetryDelay until MaxAttempts is reached.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any, opts ...Option) error
	Handle(kind string, h Handler)
	Run(ctx context.Context) error
	Close() error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// ShouldRetry reports whether a failed attempt of t gets another try.
func ShouldRetry(t Task, err error) bool {
	return err != nil && !IsPermanent(err) && t.Attempt < t.MaxAttempts
}

// RetryDelay grows exponentially from one second and caps at one minute.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << (attempt - 1)
	if d > time.Minute || d <= 0 {
		return time.Minute
	}
	return d
}
