package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/pkg/category"
)

// CategorySource lists the categories actually referenced by indexed chunks.
type CategorySource struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewCategorySource(uowFactory unitofwork.RepositoryFactory) *CategorySource {
	return &CategorySource{uowFactory: uowFactory}
}

func (s *CategorySource) UsedCategories(ctx context.Context, scope category.Scope) ([]category.Category, error) {
	var agentId *uuid.UUID
	if scope.AgentID != "" {
		id, err := uuid.Parse(scope.AgentID)
		if err != nil {
			return nil, fmt.Errorf("category scope agent %q: %w", scope.AgentID, err)
		}
		agentId = &id
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	used, err := uow.CategoryRepository().FindUsed(ctx, agentId)
	if err != nil {
		return nil, err
	}
	categories := make([]category.Category, 0, len(used))
	for _, c := range used {
		categories = append(categories, category.Category{Name: c.Name, Description: c.Description})
	}
	return categories, nil
}
