package unitofwork

import (
	"context"

	"github.com/rrbip/batirama-connect-sub002/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	DocumentRepository() contract.DocumentRepository
	ChunkRepository() contract.ChunkRepository
	CategoryRepository() contract.CategoryRepository
	AgentRepository() contract.AgentRepository

	WebhookTargetRepository() contract.WebhookTargetRepository
	WebhookDeliveryRepository() contract.WebhookDeliveryRepository
}
