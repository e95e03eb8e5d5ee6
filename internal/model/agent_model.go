package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Agent struct {
	Id                    uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name                  string         `gorm:"type:varchar(255);not null"`
	SystemPrompt          string         `gorm:"type:text"`
	Collection            string         `gorm:"type:varchar(128);not null"`
	ScoreThreshold        float64        `gorm:"default:0.5"`
	MaxResults            int            `gorm:"default:5"`
	UseCategoryFilter     bool           `gorm:"default:true"`
	IterativeSearch       bool           `gorm:"default:false"`
	MaxContextTokens      int            `gorm:"default:0"`
	LearnedThreshold      float64        `gorm:"default:0.85"`
	DirectAnswerThreshold float64        `gorm:"default:0.95"`
	HistoryWindow         int            `gorm:"default:6"`
	ChunkStrategy         string         `gorm:"type:varchar(32)"`
	ChunkMaxTokens        int            `gorm:"default:0"`
	ChunkOverlapTokens    int            `gorm:"default:0"`
	Hydration             datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt             time.Time      `gorm:"autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime"`
}

func (Agent) TableName() string {
	return "agents"
}
