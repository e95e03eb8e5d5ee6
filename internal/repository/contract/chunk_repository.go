package contract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
)

type ChunkRepository interface {
	CreateBulk(ctx context.Context, chunks []*entity.Chunk) error
	DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Chunk, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// MarkIndexed flags the given chunks as indexed with their point id.
	MarkIndexed(ctx context.Context, pointIds map[uuid.UUID]string, at time.Time) error
	ClearIndexed(ctx context.Context, documentId uuid.UUID) error
}
