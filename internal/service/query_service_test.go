package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/category"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/learning"
	"github.com/rrbip/batirama-connect-sub002/pkg/llm"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/retrieval"
)

type stubRetriever struct {
	result *retrieval.Result
	cfg    retrieval.AgentConfig
}

func (s *stubRetriever) Retrieve(_ context.Context, cfg retrieval.AgentConfig, _ string) *retrieval.Result {
	s.cfg = cfg
	return s.result
}

type stubLLM struct {
	answer  string
	err     error
	calls   int
	history []llm.Message
}

func (s *stubLLM) Generate(context.Context, string, ...llm.Option) (string, error) {
	return s.answer, s.err
}

func (s *stubLLM) Chat(_ context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	s.calls++
	s.history = history
	return s.answer, s.err
}

func newAgent(db *memDB) *entity.Agent {
	agent := &entity.Agent{
		Id:                    uuid.New(),
		Name:                  "roofing",
		SystemPrompt:          "You answer roofing questions.",
		ScoreThreshold:        0.5,
		MaxResults:            5,
		LearnedThreshold:      0.85,
		DirectAnswerThreshold: 0.95,
		HistoryWindow:         2,
	}
	db.agents[agent.Id] = agent
	return agent
}

func TestQuery_DirectLearnedAnswerSkipsLLM(t *testing.T) {
	db := newMemDB()
	agent := newAgent(db)
	retriever := &stubRetriever{result: &retrieval.Result{
		Learned: &learning.Match{Response: learning.Response{ID: "l1", Question: "q", Answer: "Use 30cm battens."}, Score: 0.97},
		Direct:  true,
	}}
	model := &stubLLM{answer: "unused"}
	hooks := &recordingWebhooks{}
	svc := NewQueryService(db, retriever, model, hooks, "documents", logger.NewNopLogger())

	resp, err := svc.Ask(context.Background(), &dto.QueryRequest{AgentId: agent.Id, Query: "batten spacing?"})
	require.NoError(t, err)

	assert.Equal(t, "Use 30cm battens.", resp.Answer)
	assert.Equal(t, KindLearned, resp.Kind)
	require.NotNil(t, resp.Learned)
	assert.True(t, resp.Learned.Direct)
	assert.Zero(t, model.calls)
	assert.Equal(t, "documents", retriever.cfg.Collection)
	assert.Equal(t, []string{events.QueryAnswered}, hooks.emitted())
}

func TestQuery_LearnedBelowDirectBarBecomesSoleContext(t *testing.T) {
	db := newMemDB()
	agent := newAgent(db)
	retriever := &stubRetriever{result: &retrieval.Result{
		Learned: &learning.Match{Response: learning.Response{ID: "l1", Question: "batten spacing", Answer: "Every 30cm."}, Score: 0.9},
		Hits:    []retrieval.Hit{{ID: "p1", Score: 0.7, Content: "unrelated chunk"}},
	}}
	model := &stubLLM{answer: "[DOCUMENTED] Every 30cm."}
	svc := NewQueryService(db, retriever, model, nil, "documents", logger.NewNopLogger())

	resp, err := svc.Ask(context.Background(), &dto.QueryRequest{AgentId: agent.Id, Query: "spacing of battens"})
	require.NoError(t, err)

	assert.Equal(t, "documented", resp.Kind)
	assert.Equal(t, "Every 30cm.", resp.Answer)
	require.Equal(t, 1, model.calls)
	reference := model.history[1].Content
	assert.Contains(t, reference, "Every 30cm.")
	assert.NotContains(t, reference, "unrelated chunk")
}

func TestQuery_GeneratesFromHitsAndHistory(t *testing.T) {
	db := newMemDB()
	agent := newAgent(db)
	retriever := &stubRetriever{result: &retrieval.Result{
		Hits: []retrieval.Hit{{
			ID:      "p1",
			Score:   0.82,
			Content: "Tiles overlap by a third.",
			Payload: map[string]any{"document_id": "d1", "document_title": "Roof guide", "chunk_index": float64(3), "category": "Toiture"},
			Source:  retrieval.SourceFallback,
		}},
		Detection: category.Detection{Categories: []string{"Toiture"}, Confidence: 0.9, Method: category.MethodKeyword},
		Stats:     retrieval.Stats{CategoryFilter: true, FallbackUsed: true, CountBeforeFallback: 0, CountAfterFallback: 1},
	}}
	model := &stubLLM{answer: "[SUGGESTION] Overlap them.\n[BLOCK:Steps]Lay the first row.[/BLOCK]"}
	svc := NewQueryService(db, retriever, model, nil, "documents", logger.NewNopLogger())

	resp, err := svc.Ask(context.Background(), &dto.QueryRequest{
		AgentId: agent.Id,
		Query:   "How much do tiles overlap?",
		History: []dto.HistoryMessage{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "second"},
			{Role: "user", Content: "third"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "suggestion", resp.Kind)
	require.Len(t, resp.Blocks, 1)
	assert.Equal(t, "Steps", resp.Blocks[0].Title)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "d1", resp.Sources[0].DocumentId)
	assert.Equal(t, "Roof guide", resp.Sources[0].Title)
	require.NotNil(t, resp.Sources[0].ChunkIndex)
	assert.Equal(t, 3, *resp.Sources[0].ChunkIndex)
	assert.Equal(t, "fallback", resp.Sources[0].Via)
	assert.True(t, resp.Retrieval.FallbackUsed)
	assert.Equal(t, []string{"Toiture"}, resp.Retrieval.Categories)

	// system, reference, two history messages, question
	require.Len(t, model.history, 5)
	assert.Equal(t, "second", model.history[2].Content)
	assert.Equal(t, "third", model.history[3].Content)
	assert.Contains(t, model.history[4].Content, "How much do tiles overlap?")
}

func TestQuery_Errors(t *testing.T) {
	db := newMemDB()
	agent := newAgent(db)
	retriever := &stubRetriever{result: &retrieval.Result{}}

	svc := NewQueryService(db, retriever, &stubLLM{}, nil, "documents", logger.NewNopLogger())
	_, err := svc.Ask(context.Background(), &dto.QueryRequest{AgentId: uuid.New(), Query: "anything"})
	assert.ErrorIs(t, err, ErrAgentNotFound)

	upstream := errors.New("model offline")
	svc = NewQueryService(db, retriever, &stubLLM{err: upstream}, nil, "documents", logger.NewNopLogger())
	_, err = svc.Ask(context.Background(), &dto.QueryRequest{AgentId: agent.Id, Query: "anything"})
	assert.ErrorIs(t, err, upstream)
}
