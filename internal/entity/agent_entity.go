package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/pkg/chunker"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/retrieval"
)

// Agent is a calling context with its own corpus, prompt and retrieval settings.
type Agent struct {
	Id                    uuid.UUID
	Name                  string
	SystemPrompt          string
	Collection            string
	ScoreThreshold        float64
	MaxResults            int
	UseCategoryFilter     bool
	IterativeSearch       bool
	MaxContextTokens      int
	LearnedThreshold      float64
	DirectAnswerThreshold float64
	HistoryWindow         int
	ChunkStrategy         string
	ChunkMaxTokens        int
	ChunkOverlapTokens    int
	Hydration             *retrieval.HydrationConfig
	CreatedAt             time.Time
	UpdatedAt             *time.Time
}

func (a *Agent) RetrievalConfig() retrieval.AgentConfig {
	return retrieval.AgentConfig{
		AgentID:               a.Id.String(),
		Collection:            a.Collection,
		ScoreThreshold:        a.ScoreThreshold,
		MaxResults:            a.MaxResults,
		UseCategoryFilter:     a.UseCategoryFilter,
		IterativeSearch:       a.IterativeSearch,
		MaxContextTokens:      a.MaxContextTokens,
		LearnedThreshold:      a.LearnedThreshold,
		DirectAnswerThreshold: a.DirectAnswerThreshold,
		Hydration:             a.Hydration,
	}
}

// ChunkSettings overlays the agent's chunking overrides on defaults.
func (a *Agent) ChunkSettings(defaults chunker.Settings) chunker.Settings {
	s := defaults
	if a.ChunkStrategy != "" {
		s.Strategy = chunker.Strategy(a.ChunkStrategy)
	}
	if a.ChunkMaxTokens > 0 {
		s.MaxTokens = a.ChunkMaxTokens
	}
	if a.ChunkOverlapTokens > 0 {
		s.OverlapTokens = a.ChunkOverlapTokens
	}
	return s
}
