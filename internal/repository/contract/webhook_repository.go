package contract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
)

type WebhookTargetRepository interface {
	Create(ctx context.Context, target *entity.WebhookTarget) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WebhookTarget, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WebhookTarget, error)
	IncrementCounter(ctx context.Context, id uuid.UUID, success bool, at time.Time) error
}

type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	Update(ctx context.Context, delivery *entity.WebhookDelivery) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WebhookDelivery, error)
}
