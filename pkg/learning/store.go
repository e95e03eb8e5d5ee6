package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/embedding"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

const (
	SourceMessage = "message"
	SourceManual  = "manual"
)

var ErrIncomplete = errors.New("learning: question and answer are required")

// Response is a human-validated question/answer pair.
type Response struct {
	ID          string
	AgentID     string
	Question    string
	Answer      string
	MessageID   string
	Source      string
	ValidatedBy string
	ValidatedAt time.Time
}

type Match struct {
	Response
	Score float64
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store keeps learned responses in their own collection, keyed by question embedding.
type Store struct {
	vectors    vectorstore.Store
	embedder   Embedder
	collection string
	logger     logger.ILogger

	mu    sync.Mutex
	ready bool
}

func NewStore(vectors vectorstore.Store, embedder Embedder, collection string, log logger.ILogger) *Store {
	if collection == "" {
		collection = "learned_responses"
	}
	return &Store{vectors: vectors, embedder: embedder, collection: collection, logger: log}
}

func (s *Store) Collection() string {
	return s.collection
}

// ResponseID is stable per (agent, question) so validating the same question again replaces
// the earlier answer.
func ResponseID(agentID, question string) string {
	return vectorstore.KeyedPointID("learned:" + agentID + ":" + strings.ToLower(embedding.Normalize(question, 0)))
}

func (s *Store) ensureCollection(ctx context.Context, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	cfg := vectorstore.CollectionConfig{VectorSize: vectorSize, Distance: vectorstore.DistanceCosine}
	if err := s.vectors.EnsureCollectionExists(ctx, s.collection, cfg); err != nil {
		return fmt.Errorf("ensure collection %s: %w", s.collection, err)
	}
	if err := s.vectors.CreatePayloadIndex(ctx, s.collection, "agent_id", vectorstore.FieldKeyword); err != nil {
		s.logger.Warn("LEARNING", "Payload index creation failed", map[string]interface{}{"error": err.Error()})
	}
	s.ready = true
	return nil
}

func (s *Store) Learn(ctx context.Context, r Response) (*Response, error) {
	if strings.TrimSpace(r.Question) == "" || strings.TrimSpace(r.Answer) == "" {
		return nil, ErrIncomplete
	}
	vector, err := s.embedder.Embed(ctx, r.Question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if err := s.ensureCollection(ctx, len(vector)); err != nil {
		return nil, err
	}

	r.ID = ResponseID(r.AgentID, r.Question)
	if r.Source == "" {
		r.Source = SourceManual
		if r.MessageID != "" {
			r.Source = SourceMessage
		}
	}
	if r.ValidatedAt.IsZero() {
		r.ValidatedAt = time.Now().UTC()
	}

	point := vectorstore.Point{
		ID:     r.ID,
		Vector: vector,
		Payload: map[string]any{
			"question":     r.Question,
			"answer":       r.Answer,
			"agent_id":     r.AgentID,
			"message_id":   r.MessageID,
			"source":       r.Source,
			"validated_by": r.ValidatedBy,
			"validated_at": r.ValidatedAt.Format(time.RFC3339),
		},
	}
	if err := s.vectors.Upsert(ctx, s.collection, []vectorstore.Point{point}); err != nil {
		return nil, fmt.Errorf("upsert learned response: %w", err)
	}

	s.logger.Info("LEARNING", "Response learned", map[string]interface{}{
		"id":       r.ID,
		"agent_id": r.AgentID,
		"source":   r.Source,
	})
	return &r, nil
}

func (s *Store) Find(ctx context.Context, agentID, question string, minScore float64) (*Match, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return s.FindByVector(ctx, agentID, vector, minScore)
}

// FindByVector returns the best learned response scoring at least minScore, or nil.
func (s *Store) FindByVector(ctx context.Context, agentID string, vector []float32, minScore float64) (*Match, error) {
	hits, err := s.vectors.Search(ctx, s.collection, vectorstore.SearchRequest{
		Vector:         vector,
		Limit:          1,
		Filter:         agentFilter(agentID),
		ScoreThreshold: minScore,
	})
	if err != nil {
		if exists, existsErr := s.vectors.CollectionExists(ctx, s.collection); existsErr == nil && !exists {
			return nil, nil
		}
		return nil, err
	}
	if len(hits) == 0 || hits[0].Score < minScore {
		return nil, nil
	}
	return &Match{Response: fromPayload(hits[0].ID, hits[0].Payload), Score: hits[0].Score}, nil
}

func (s *Store) Forget(ctx context.Context, id string) error {
	return s.vectors.Delete(ctx, s.collection, []string{id})
}

func (s *Store) Count(ctx context.Context, agentID string) (int64, error) {
	return s.vectors.Count(ctx, s.collection, agentFilter(agentID))
}

func (s *Store) List(ctx context.Context, agentID string) ([]Response, error) {
	points, err := vectorstore.ScrollAll(ctx, s.vectors, s.collection, agentFilter(agentID), 100)
	if err != nil {
		return nil, err
	}
	out := make([]Response, len(points))
	for i, p := range points {
		out[i] = fromPayload(p.ID, p.Payload)
	}
	return out, nil
}

func agentFilter(agentID string) *vectorstore.Filter {
	if agentID == "" {
		return nil
	}
	return &vectorstore.Filter{Must: []vectorstore.Condition{vectorstore.MatchValue("agent_id", agentID)}}
}

func fromPayload(id string, payload map[string]any) Response {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	r := Response{
		ID:          id,
		AgentID:     str("agent_id"),
		Question:    str("question"),
		Answer:      str("answer"),
		MessageID:   str("message_id"),
		Source:      str("source"),
		ValidatedBy: str("validated_by"),
	}
	if t, err := time.Parse(time.RFC3339, str("validated_at")); err == nil {
		r.ValidatedAt = t
	}
	return r
}
