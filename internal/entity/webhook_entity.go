package entity

import (
	"time"

	"github.com/google/uuid"
)

type WebhookTarget struct {
	Id              uuid.UUID
	Name            string
	Url             string
	Secret          string
	Events          []string
	IsActive        bool
	SuccessCount    int
	FailureCount    int
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

type WebhookDelivery struct {
	Id             uuid.UUID
	TargetId       uuid.UUID
	Event          string
	Payload        []byte
	Status         string
	Attempts       int
	LastHttpStatus int
	LastError      string
	ResponseTimeMs int64
	NextAttemptAt  *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}
