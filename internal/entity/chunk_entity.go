package entity

import (
	"time"

	"github.com/google/uuid"
)

type Chunk struct {
	Id           uuid.UUID
	DocumentId   uuid.UUID
	ChunkIndex   int
	StartOffset  int
	EndOffset    int
	Content      string
	ContentHash  string
	TokenCount   int
	CategoryId   *uuid.UUID
	CategoryName string
	Summary      string
	Keywords     []string
	IsIndexed    bool
	PointId      *string
	IndexedAt    *time.Time
	CreatedAt    time.Time
}
