package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Chunk struct {
	Id          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentId  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_document_index"`
	ChunkIndex  int            `gorm:"not null;uniqueIndex:idx_chunk_document_index"`
	StartOffset int            `gorm:"not null"`
	EndOffset   int            `gorm:"not null"`
	Content     string         `gorm:"type:text;not null"`
	ContentHash string         `gorm:"type:char(64);index"`
	TokenCount  int            `gorm:"default:0"`
	CategoryId  *uuid.UUID     `gorm:"type:uuid;index"`
	Category    *Category      `gorm:"foreignKey:CategoryId"`
	Summary     string         `gorm:"type:text"`
	Keywords    datatypes.JSON `gorm:"type:jsonb"`
	IsIndexed   bool           `gorm:"default:false;index"`
	PointId     *string        `gorm:"type:varchar(64)"`
	IndexedAt   *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (Chunk) TableName() string {
	return "chunks"
}
