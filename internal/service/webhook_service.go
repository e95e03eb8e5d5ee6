package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/lock"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
	"github.com/rrbip/batirama-connect-sub002/pkg/webhook"
)

type IWebhookService interface {
	// Emit fans evt out to every active target subscribed to it.
	Emit(ctx context.Context, evt events.Event) error
	// Deliver runs one attempt of a queued delivery.
	Deliver(ctx context.Context, deliveryId string) error
}

type webhookService struct {
	uowFactory unitofwork.RepositoryFactory
	dispatcher *webhook.Dispatcher
	logger     logger.ILogger
}

func NewWebhookService(
	uowFactory unitofwork.RepositoryFactory,
	tasks queue.Queue,
	poster webhook.Poster,
	locker lock.Locker,
	log logger.ILogger,
) IWebhookService {
	repo := &webhookRepository{uowFactory: uowFactory}
	return &webhookService{
		uowFactory: uowFactory,
		dispatcher: webhook.NewDispatcher(repo, &webhookScheduler{tasks: tasks}, poster, locker, log),
		logger:     log,
	}
}

func (s *webhookService) Emit(ctx context.Context, evt events.Event) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	targets, err := uow.WebhookTargetRepository().FindAll(ctx, specification.ActiveOnly{})
	if err != nil {
		return fmt.Errorf("list webhook targets: %w", err)
	}

	data := evt.Payload()
	var errs []error
	for _, t := range targets {
		target := toWebhookTarget(t)
		if !target.Subscribed(evt.EventType()) {
			continue
		}
		if _, err := s.dispatcher.Dispatch(ctx, target, evt.EventType(), data); err != nil {
			s.logger.Error("WEBHOOK", "Failed to queue delivery", map[string]interface{}{
				"target_id": target.ID,
				"event":     evt.EventType(),
				"error":     err.Error(),
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *webhookService) Deliver(ctx context.Context, deliveryId string) error {
	err := s.dispatcher.Attempt(ctx, deliveryId)
	if errors.Is(err, webhook.ErrDeliveryNotFound) {
		return queue.Permanent(err)
	}
	return err
}

// webhookRepository adapts the unit of work to the dispatcher's storage needs.
type webhookRepository struct {
	uowFactory unitofwork.RepositoryFactory
}

func (r *webhookRepository) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	uow := r.uowFactory.NewUnitOfWork(ctx)
	e, err := fromWebhookDelivery(d)
	if err != nil {
		return err
	}
	return uow.WebhookDeliveryRepository().Create(ctx, e)
}

func (r *webhookRepository) FindDelivery(ctx context.Context, id string) (*webhook.Delivery, error) {
	deliveryId, err := uuid.Parse(id)
	if err != nil {
		return nil, webhook.ErrDeliveryNotFound
	}
	uow := r.uowFactory.NewUnitOfWork(ctx)
	e, err := uow.WebhookDeliveryRepository().FindOne(ctx, specification.ByID{ID: deliveryId})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, webhook.ErrDeliveryNotFound
	}
	return toWebhookDelivery(e), nil
}

func (r *webhookRepository) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	e, err := fromWebhookDelivery(d)
	if err != nil {
		return err
	}
	uow := r.uowFactory.NewUnitOfWork(ctx)
	return uow.WebhookDeliveryRepository().Update(ctx, e)
}

func (r *webhookRepository) FindTarget(ctx context.Context, id string) (*webhook.Target, error) {
	targetId, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("webhook target id %q: %w", id, err)
	}
	uow := r.uowFactory.NewUnitOfWork(ctx)
	t, err := uow.WebhookTargetRepository().FindOne(ctx, specification.ByID{ID: targetId})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, queue.Permanent(fmt.Errorf("webhook target %s not found", id))
	}
	target := toWebhookTarget(t)
	return &target, nil
}

func (r *webhookRepository) CompleteDelivery(ctx context.Context, d *webhook.Delivery, success bool) (err error) {
	targetId, err := uuid.Parse(d.TargetID)
	if err != nil {
		return fmt.Errorf("webhook target id %q: %w", d.TargetID, err)
	}
	e, err := fromWebhookDelivery(d)
	if err != nil {
		return err
	}

	uow := r.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = uow.Rollback()
		}
	}()

	if err = uow.WebhookDeliveryRepository().Update(ctx, e); err != nil {
		return err
	}
	if err = uow.WebhookTargetRepository().IncrementCounter(ctx, targetId, success, time.Now()); err != nil {
		return err
	}
	return uow.Commit()
}

// webhookScheduler turns delivery attempts into webhook.deliver tasks.
type webhookScheduler struct {
	tasks queue.Queue
}

func (s *webhookScheduler) ScheduleAttempt(ctx context.Context, deliveryId string, delay time.Duration) error {
	return s.tasks.Enqueue(ctx, TaskWebhookDeliver, dto.WebhookDeliverPayload{DeliveryId: deliveryId}, queue.WithDelay(delay))
}

func toWebhookTarget(t *entity.WebhookTarget) webhook.Target {
	return webhook.Target{
		ID:     t.Id.String(),
		Name:   t.Name,
		URL:    t.Url,
		Secret: t.Secret,
		Events: t.Events,
		Active: t.IsActive,
	}
}

func toWebhookDelivery(e *entity.WebhookDelivery) *webhook.Delivery {
	return &webhook.Delivery{
		ID:             e.Id.String(),
		TargetID:       e.TargetId.String(),
		Event:          e.Event,
		Payload:        e.Payload,
		Status:         webhook.Status(e.Status),
		Attempts:       e.Attempts,
		LastHTTPStatus: e.LastHttpStatus,
		LastError:      e.LastError,
		ResponseTimeMs: e.ResponseTimeMs,
		NextAttemptAt:  e.NextAttemptAt,
		DeliveredAt:    e.DeliveredAt,
		CreatedAt:      e.CreatedAt,
	}
}

func fromWebhookDelivery(d *webhook.Delivery) (*entity.WebhookDelivery, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("delivery id %q: %w", d.ID, err)
	}
	targetId, err := uuid.Parse(d.TargetID)
	if err != nil {
		return nil, fmt.Errorf("delivery target id %q: %w", d.TargetID, err)
	}
	return &entity.WebhookDelivery{
		Id:             id,
		TargetId:       targetId,
		Event:          d.Event,
		Payload:        d.Payload,
		Status:         string(d.Status),
		Attempts:       d.Attempts,
		LastHttpStatus: d.LastHTTPStatus,
		LastError:      d.LastError,
		ResponseTimeMs: d.ResponseTimeMs,
		NextAttemptAt:  d.NextAttemptAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
	}, nil
}
