package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WebhookTarget struct {
	Id              uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name            string         `gorm:"type:varchar(255);not null"`
	Url             string         `gorm:"type:text;not null"`
	Secret          string         `gorm:"type:varchar(255);not null"`
	Events          datatypes.JSON `gorm:"type:jsonb"`
	IsActive        bool           `gorm:"default:true;index"`
	SuccessCount    int            `gorm:"default:0"`
	FailureCount    int            `gorm:"default:0"`
	LastTriggeredAt *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

type WebhookDelivery struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TargetId       uuid.UUID      `gorm:"type:uuid;not null;index"`
	Target         *WebhookTarget `gorm:"foreignKey:TargetId;constraint:OnDelete:CASCADE"`
	Event          string         `gorm:"type:varchar(128);not null"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null"`
	Status         string         `gorm:"type:varchar(16);not null;index"`
	Attempts       int            `gorm:"default:0"`
	LastHttpStatus int
	LastError      string `gorm:"type:text"`
	ResponseTimeMs int64
	NextAttemptAt  *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
