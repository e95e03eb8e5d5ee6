package entity

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentChunking   DocumentStatus = "chunking"
	DocumentEnriching  DocumentStatus = "enriching"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
	DocumentChunkError DocumentStatus = "chunk_error"
)

type Document struct {
	Id            uuid.UUID
	AgentId       *uuid.UUID
	Title         string
	FilePath      string
	FileType      string
	SourceType    string
	ExtractedText string
	Status        DocumentStatus
	ErrorMessage  string
	ChunkStrategy string
	ChunkCount    int
	IsIndexed     bool
	IndexedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}
