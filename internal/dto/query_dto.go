package dto

import (
	"time"

	"github.com/google/uuid"
)

type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

type QueryRequest struct {
	AgentId uuid.UUID
	Query   string           `json:"query" validate:"required,max=4000"`
	History []HistoryMessage `json:"history" validate:"max=50,dive"`
}

type SourceDTO struct {
	PointId    string  `json:"point_id"`
	DocumentId string  `json:"document_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	ChunkIndex *int    `json:"chunk_index,omitempty"`
	Category   string  `json:"category,omitempty"`
	Score      float64 `json:"score"`
	Via        string  `json:"via"`
}

type BlockDTO struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

type LearnedMatchDTO struct {
	Id       string  `json:"id"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
	Direct   bool    `json:"direct"`
}

type RetrievalStatsDTO struct {
	Categories          []string `json:"categories"`
	DetectionMethod     string   `json:"detection_method"`
	Confidence          float64  `json:"confidence"`
	CategoryFilter      bool     `json:"category_filter"`
	FallbackUsed        bool     `json:"fallback_used"`
	CountBeforeFallback int      `json:"count_before_fallback"`
	CountAfterFallback  int      `json:"count_after_fallback"`
	Hydrated            int      `json:"hydrated"`
	IterativeQuery      string   `json:"iterative_query,omitempty"`
	IterativeAdded      int      `json:"iterative_added"`
	TokensUsed          int      `json:"tokens_used"`
	Truncated           int      `json:"truncated"`
}

type QueryResponse struct {
	AgentId    uuid.UUID         `json:"agent_id"`
	Answer     string            `json:"answer"`
	Kind       string            `json:"kind"`
	Blocks     []BlockDTO        `json:"blocks,omitempty"`
	Sources    []SourceDTO       `json:"sources"`
	Learned    *LearnedMatchDTO  `json:"learned,omitempty"`
	Retrieval  RetrievalStatsDTO `json:"retrieval"`
	AnsweredAt time.Time         `json:"answered_at"`
}
