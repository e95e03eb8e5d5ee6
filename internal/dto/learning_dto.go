package dto

import (
	"time"

	"github.com/google/uuid"
)

type LearnResponseRequest struct {
	AgentId     uuid.UUID
	Question    string `json:"question" validate:"required,max=4000"`
	Answer      string `json:"answer" validate:"required"`
	MessageId   string `json:"message_id"`
	ValidatedBy string `json:"validated_by" validate:"max=255"`
}

type LearnResponseResponse struct {
	Id          string    `json:"id"`
	AgentId     uuid.UUID `json:"agent_id"`
	Question    string    `json:"question"`
	ValidatedAt time.Time `json:"validated_at"`
}
