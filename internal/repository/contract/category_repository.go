package contract

import (
	"context"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
)

type CategoryRepository interface {
	Create(ctx context.Context, category *entity.Category) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Category, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Category, error)
	IncrementUsage(ctx context.Context, id uuid.UUID, delta int) error
	// FindUsed lists categories referenced by at least one chunk, restricted to an agent's
	// documents when agentId is set.
	FindUsed(ctx context.Context, agentId *uuid.UUID) ([]*entity.Category, error)
}
