package dto

import (
	"time"

	"github.com/google/uuid"
)

// DocumentTaskPayload is the body of every document.* task.
type DocumentTaskPayload struct {
	DocumentId uuid.UUID `json:"document_id"`
}

type ProcessDocumentResponse struct {
	Id     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

type DeindexDocumentResponse struct {
	Id        uuid.UUID  `json:"id"`
	IsIndexed bool       `json:"is_indexed"`
	IndexedAt *time.Time `json:"indexed_at"`
}

type SubmitPendingResponse struct {
	Submitted int `json:"submitted"`
}
