package model

import (
	"time"

	"github.com/google/uuid"
)

type Category struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name          string    `gorm:"type:varchar(128);not null;uniqueIndex"`
	Description   string    `gorm:"type:text"`
	UsageCount    int       `gorm:"default:0"`
	IsAiGenerated bool      `gorm:"default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (Category) TableName() string {
	return "categories"
}
