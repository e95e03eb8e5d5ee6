package entity

import (
	"time"

	"github.com/google/uuid"
)

type Category struct {
	Id            uuid.UUID
	Name          string
	Description   string
	UsageCount    int
	IsAiGenerated bool
	CreatedAt     time.Time
}
