package mapper

import (
	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
)

type CategoryMapper struct{}

func NewCategoryMapper() *CategoryMapper {
	return &CategoryMapper{}
}

func (m *CategoryMapper) ToEntity(c *model.Category) *entity.Category {
	if c == nil {
		return nil
	}
	return &entity.Category{
		Id:            c.Id,
		Name:          c.Name,
		Description:   c.Description,
		UsageCount:    c.UsageCount,
		IsAiGenerated: c.IsAiGenerated,
		CreatedAt:     c.CreatedAt,
	}
}

func (m *CategoryMapper) ToModel(c *entity.Category) *model.Category {
	if c == nil {
		return nil
	}
	return &model.Category{
		Id:            c.Id,
		Name:          c.Name,
		Description:   c.Description,
		UsageCount:    c.UsageCount,
		IsAiGenerated: c.IsAiGenerated,
		CreatedAt:     c.CreatedAt,
	}
}

func (m *CategoryMapper) ToEntities(categories []*model.Category) []*entity.Category {
	entities := make([]*entity.Category, len(categories))
	for i, c := range categories {
		entities[i] = m.ToEntity(c)
	}
	return entities
}
