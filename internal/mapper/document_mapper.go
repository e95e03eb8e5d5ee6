package mapper

import (
	"time"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
)

type DocumentMapper struct{}

func NewDocumentMapper() *DocumentMapper {
	return &DocumentMapper{}
}

func (m *DocumentMapper) ToEntity(d *model.Document) *entity.Document {
	if d == nil {
		return nil
	}

	var updatedAt *time.Time
	if !d.UpdatedAt.IsZero() {
		t := d.UpdatedAt
		updatedAt = &t
	}

	return &entity.Document{
		Id:            d.Id,
		AgentId:       d.AgentId,
		Title:         d.Title,
		FilePath:      d.FilePath,
		FileType:      d.FileType,
		SourceType:    d.SourceType,
		ExtractedText: d.ExtractedText,
		Status:        entity.DocumentStatus(d.Status),
		ErrorMessage:  d.ErrorMessage,
		ChunkStrategy: d.ChunkStrategy,
		ChunkCount:    d.ChunkCount,
		IsIndexed:     d.IsIndexed,
		IndexedAt:     d.IndexedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     updatedAt,
	}
}

func (m *DocumentMapper) ToModel(d *entity.Document) *model.Document {
	if d == nil {
		return nil
	}

	var updatedAt time.Time
	if d.UpdatedAt != nil {
		updatedAt = *d.UpdatedAt
	}

	return &model.Document{
		Id:            d.Id,
		AgentId:       d.AgentId,
		Title:         d.Title,
		FilePath:      d.FilePath,
		FileType:      d.FileType,
		SourceType:    d.SourceType,
		ExtractedText: d.ExtractedText,
		Status:        string(d.Status),
		ErrorMessage:  d.ErrorMessage,
		ChunkStrategy: d.ChunkStrategy,
		ChunkCount:    d.ChunkCount,
		IsIndexed:     d.IsIndexed,
		IndexedAt:     d.IndexedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     updatedAt,
	}
}

func (m *DocumentMapper) ToEntities(docs []*model.Document) []*entity.Document {
	entities := make([]*entity.Document, len(docs))
	for i, d := range docs {
		entities[i] = m.ToEntity(d)
	}
	return entities
}
