package model

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	Id            uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AgentId       *uuid.UUID `gorm:"type:uuid;index"`
	Title         string     `gorm:"type:varchar(255);not null"`
	FilePath      string     `gorm:"type:text;not null"`
	FileType      string     `gorm:"type:varchar(16);not null"`
	SourceType    string     `gorm:"type:varchar(32);default:'document'"`
	ExtractedText string     `gorm:"type:text"`
	Status        string     `gorm:"type:varchar(32);not null;default:'pending';index"`
	ErrorMessage  string     `gorm:"type:text"`
	ChunkStrategy string     `gorm:"type:varchar(32)"`
	ChunkCount    int        `gorm:"default:0"`
	IsIndexed     bool       `gorm:"default:false"`
	IndexedAt     *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (Document) TableName() string {
	return "documents"
}
