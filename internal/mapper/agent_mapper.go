package mapper

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/retrieval"
)

type AgentMapper struct{}

func NewAgentMapper() *AgentMapper {
	return &AgentMapper{}
}

func (m *AgentMapper) ToEntity(a *model.Agent) *entity.Agent {
	if a == nil {
		return nil
	}

	var hydration *retrieval.HydrationConfig
	if len(a.Hydration) > 0 && string(a.Hydration) != "null" {
		var h retrieval.HydrationConfig
		if err := json.Unmarshal(a.Hydration, &h); err == nil {
			hydration = &h
		}
	}

	var updatedAt *time.Time
	if !a.UpdatedAt.IsZero() {
		t := a.UpdatedAt
		updatedAt = &t
	}

	return &entity.Agent{
		Id:                    a.Id,
		Name:                  a.Name,
		SystemPrompt:          a.SystemPrompt,
		Collection:            a.Collection,
		ScoreThreshold:        a.ScoreThreshold,
		MaxResults:            a.MaxResults,
		UseCategoryFilter:     a.UseCategoryFilter,
		IterativeSearch:       a.IterativeSearch,
		MaxContextTokens:      a.MaxContextTokens,
		LearnedThreshold:      a.LearnedThreshold,
		DirectAnswerThreshold: a.DirectAnswerThreshold,
		HistoryWindow:         a.HistoryWindow,
		ChunkStrategy:         a.ChunkStrategy,
		ChunkMaxTokens:        a.ChunkMaxTokens,
		ChunkOverlapTokens:    a.ChunkOverlapTokens,
		Hydration:             hydration,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             updatedAt,
	}
}

func (m *AgentMapper) ToModel(a *entity.Agent) *model.Agent {
	if a == nil {
		return nil
	}

	var hydration datatypes.JSON
	if a.Hydration != nil {
		raw, _ := json.Marshal(a.Hydration)
		hydration = datatypes.JSON(raw)
	}

	var updatedAt time.Time
	if a.UpdatedAt != nil {
		updatedAt = *a.UpdatedAt
	}

	return &model.Agent{
		Id:                    a.Id,
		Name:                  a.Name,
		SystemPrompt:          a.SystemPrompt,
		Collection:            a.Collection,
		ScoreThreshold:        a.ScoreThreshold,
		MaxResults:            a.MaxResults,
		UseCategoryFilter:     a.UseCategoryFilter,
		IterativeSearch:       a.IterativeSearch,
		MaxContextTokens:      a.MaxContextTokens,
		LearnedThreshold:      a.LearnedThreshold,
		DirectAnswerThreshold: a.DirectAnswerThreshold,
		HistoryWindow:         a.HistoryWindow,
		ChunkStrategy:         a.ChunkStrategy,
		ChunkMaxTokens:        a.ChunkMaxTokens,
		ChunkOverlapTokens:    a.ChunkOverlapTokens,
		Hydration:             hydration,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             updatedAt,
	}
}
