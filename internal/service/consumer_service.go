package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
)

// Task kinds handled by the worker.
const (
	TaskDocumentExtract = "document.extract"
	TaskDocumentChunk   = "document.chunk"
	TaskDocumentIndex   = "document.index"
	TaskWebhookDeliver  = "webhook.deliver"
)

type IConsumerService interface {
	// Consume registers every task handler and blocks until ctx is cancelled.
	Consume(ctx context.Context) error
}

type consumerService struct {
	tasks       queue.Queue
	ingestion   IIngestionService
	webhooks    IWebhookService
	taskTimeout time.Duration
	logger      logger.ILogger
}

// NewConsumerService builds the worker. A zero taskTimeout leaves handlers unbounded; a nil
// service leaves its task kinds unhandled.
func NewConsumerService(
	tasks queue.Queue,
	ingestion IIngestionService,
	webhooks IWebhookService,
	taskTimeout time.Duration,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		tasks:       tasks,
		ingestion:   ingestion,
		webhooks:    webhooks,
		taskTimeout: taskTimeout,
		logger:      log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	if cs.ingestion != nil {
		cs.tasks.Handle(TaskDocumentExtract, cs.documentHandler(cs.ingestion.Extract))
		cs.tasks.Handle(TaskDocumentChunk, cs.documentHandler(cs.ingestion.Chunk))
		cs.tasks.Handle(TaskDocumentIndex, cs.documentHandler(cs.ingestion.Index))
	}
	if cs.webhooks != nil {
		cs.tasks.Handle(TaskWebhookDeliver, cs.withTimeout(cs.deliverWebhook))
	}

	cs.logger.Info("QUEUE", "Task worker started", map[string]interface{}{
		"task_timeout": cs.taskTimeout.String(),
	})
	return cs.tasks.Run(ctx)
}

func (cs *consumerService) documentHandler(stage func(ctx context.Context, documentId uuid.UUID) error) queue.Handler {
	return cs.withTimeout(func(ctx context.Context, task queue.Task) error {
		var payload dto.DocumentTaskPayload
		if err := task.Decode(&payload); err != nil {
			return queue.Permanent(err)
		}
		return stage(queue.WithTask(ctx, task), payload.DocumentId)
	})
}

func (cs *consumerService) deliverWebhook(ctx context.Context, task queue.Task) error {
	var payload dto.WebhookDeliverPayload
	if err := task.Decode(&payload); err != nil {
		return queue.Permanent(err)
	}
	return cs.webhooks.Deliver(ctx, payload.DeliveryId)
}

func (cs *consumerService) withTimeout(h queue.Handler) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		if cs.taskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cs.taskTimeout)
			defer cancel()
		}

		start := time.Now()
		err := h(ctx, task)
		details := map[string]interface{}{
			"task_id":     task.ID,
			"kind":        task.Kind,
			"attempt":     task.Attempt,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			details["error"] = err.Error()
			details["permanent"] = queue.IsPermanent(err)
			cs.logger.Warn("QUEUE", "Task failed", details)
			return err
		}
		cs.logger.Debug("QUEUE", "Task done", details)
		return nil
	}
}
