package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
)

type ByStatus struct {
	Status entity.DocumentStatus
}

func (s ByStatus) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", string(s.Status))
}

type ByAgentID struct {
	AgentID uuid.UUID
}

func (s ByAgentID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("agent_id = ?", s.AgentID)
}

type ByDocumentID struct {
	DocumentID uuid.UUID
}

func (s ByDocumentID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("document_id = ?", s.DocumentID)
}

// NotIndexed keeps chunks still waiting for a vector point.
type NotIndexed struct{}

func (s NotIndexed) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_indexed = ?", false)
}

type ByName struct {
	Name string
}

func (s ByName) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("LOWER(name) = LOWER(?)", s.Name)
}

type ActiveOnly struct{}

func (s ActiveOnly) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ?", true)
}
