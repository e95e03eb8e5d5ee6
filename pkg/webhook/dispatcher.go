package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/lock"
)

var ErrDeliveryNotFound = errors.New("webhook: delivery not found")

// Repository persists deliveries and target counters.
type Repository interface {
	CreateDelivery(ctx context.Context, d *Delivery) error
	FindDelivery(ctx context.Context, id string) (*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	FindTarget(ctx context.Context, id string) (*Target, error)
	// CompleteDelivery stores a terminal delivery and bumps its target's success or failure
	// counter atomically.
	CompleteDelivery(ctx context.Context, d *Delivery, success bool) error
}

// Scheduler runs Attempt for a delivery after delay, at least once.
type Scheduler interface {
	ScheduleAttempt(ctx context.Context, deliveryID string, delay time.Duration) error
}

type Poster interface {
	Send(ctx context.Context, target Target, d Delivery) AttemptResult
}

type Dispatcher struct {
	repo      Repository
	scheduler Scheduler
	poster    Poster
	locker    lock.Locker
	logger    logger.ILogger
	now       func() time.Time
	lockTTL   time.Duration
}

func NewDispatcher(repo Repository, scheduler Scheduler, poster Poster, locker lock.Locker, log logger.ILogger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		scheduler: scheduler,
		poster:    poster,
		locker:    locker,
		logger:    log,
		now:       time.Now,
		lockTTL:   2 * time.Minute,
	}
}

// Dispatch records a pending delivery of event to target and schedules its first attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, event string, data any) (*Delivery, error) {
	now := d.now()
	payload, err := NewEnvelope(event, data, now)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	delivery := &Delivery{
		ID:        uuid.NewString(),
		TargetID:  target.ID,
		Event:     event,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	if err := d.scheduler.ScheduleAttempt(ctx, delivery.ID, 0); err != nil {
		return nil, fmt.Errorf("schedule delivery %s: %w", delivery.ID, err)
	}

	d.logger.Info("WEBHOOK", "Delivery queued", map[string]interface{}{
		"target_id":   target.ID,
		"delivery_id": delivery.ID,
		"event":       event,
	})
	return delivery, nil
}

// Attempt runs one delivery try. Attempts of the same delivery never overlap; a delivery that is
// already terminal is left alone, so redelivered tasks are harmless.
func (d *Dispatcher) Attempt(ctx context.Context, deliveryID string) error {
	unlock, err := d.locker.Acquire(ctx, "webhook:delivery:"+deliveryID, d.lockTTL)
	if err != nil {
		return fmt.Errorf("lock delivery %s: %w", deliveryID, err)
	}
	defer unlock()

	delivery, err := d.repo.FindDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status.Terminal() {
		return nil
	}
	target, err := d.repo.FindTarget(ctx, delivery.TargetID)
	if err != nil {
		return err
	}

	result := d.poster.Send(ctx, *target, *delivery)
	outcome := Advance(delivery, result, d.now())

	details := map[string]interface{}{
		"target_id":        target.ID,
		"delivery_id":      delivery.ID,
		"event":            delivery.Event,
		"attempt":          delivery.Attempts,
		"http_status":      result.StatusCode,
		"response_time_ms": delivery.ResponseTimeMs,
		"status":           string(outcome.Status),
	}
	if result.Err != nil {
		details["error"] = result.Err.Error()
	}

	switch outcome.Status {
	case StatusSuccess, StatusFailed:
		if err := d.repo.CompleteDelivery(ctx, delivery, outcome.Status == StatusSuccess); err != nil {
			return fmt.Errorf("complete delivery %s: %w", delivery.ID, err)
		}
		if outcome.Status == StatusSuccess {
			d.logger.Info("WEBHOOK", "Delivery succeeded", details)
		} else {
			d.logger.Error("WEBHOOK", "Delivery failed permanently", details)
		}
		return nil
	default:
		if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("update delivery %s: %w", delivery.ID, err)
		}
		details["retry_in"] = outcome.Delay.String()
		d.logger.Warn("WEBHOOK", "Delivery attempt failed", details)
		return d.scheduler.ScheduleAttempt(ctx, delivery.ID, outcome.Delay)
	}
}
