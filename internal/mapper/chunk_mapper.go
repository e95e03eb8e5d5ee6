package mapper

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
)

type ChunkMapper struct{}

func NewChunkMapper() *ChunkMapper {
	return &ChunkMapper{}
}

func (m *ChunkMapper) ToEntity(c *model.Chunk) *entity.Chunk {
	if c == nil {
		return nil
	}

	var keywords []string
	if len(c.Keywords) > 0 {
		_ = json.Unmarshal(c.Keywords, &keywords)
	}
	var categoryName string
	if c.Category != nil {
		categoryName = c.Category.Name
	}

	return &entity.Chunk{
		Id:           c.Id,
		DocumentId:   c.DocumentId,
		ChunkIndex:   c.ChunkIndex,
		StartOffset:  c.StartOffset,
		EndOffset:    c.EndOffset,
		Content:      c.Content,
		ContentHash:  c.ContentHash,
		TokenCount:   c.TokenCount,
		CategoryId:   c.CategoryId,
		CategoryName: categoryName,
		Summary:      c.Summary,
		Keywords:     keywords,
		IsIndexed:    c.IsIndexed,
		PointId:      c.PointId,
		IndexedAt:    c.IndexedAt,
		CreatedAt:    c.CreatedAt,
	}
}

func (m *ChunkMapper) ToModel(c *entity.Chunk) *model.Chunk {
	if c == nil {
		return nil
	}

	var keywords datatypes.JSON
	if len(c.Keywords) > 0 {
		raw, _ := json.Marshal(c.Keywords)
		keywords = datatypes.JSON(raw)
	}

	return &model.Chunk{
		Id:          c.Id,
		DocumentId:  c.DocumentId,
		ChunkIndex:  c.ChunkIndex,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
		Content:     c.Content,
		ContentHash: c.ContentHash,
		TokenCount:  c.TokenCount,
		CategoryId:  c.CategoryId,
		Summary:     c.Summary,
		Keywords:    keywords,
		IsIndexed:   c.IsIndexed,
		PointId:     c.PointId,
		IndexedAt:   c.IndexedAt,
		CreatedAt:   c.CreatedAt,
	}
}

func (m *ChunkMapper) ToEntities(chunks []*model.Chunk) []*entity.Chunk {
	entities := make([]*entity.Chunk, len(chunks))
	for i, c := range chunks {
		entities[i] = m.ToEntity(c)
	}
	return entities
}

func (m *ChunkMapper) ToModels(chunks []*entity.Chunk) []*model.Chunk {
	models := make([]*model.Chunk, len(chunks))
	for i, c := range chunks {
		models[i] = m.ToModel(c)
	}
	return models
}
