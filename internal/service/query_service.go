package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/llm"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/marker"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/prompt"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/retrieval"
)

var ErrAgentNotFound = errors.New("agent not found")

// KindLearned marks an answer served straight from a validated response.
const KindLearned = "learned"

type Retriever interface {
	Retrieve(ctx context.Context, cfg retrieval.AgentConfig, query string) *retrieval.Result
}

type IQueryService interface {
	Ask(ctx context.Context, req *dto.QueryRequest) (*dto.QueryResponse, error)
}

type queryService struct {
	uowFactory        unitofwork.RepositoryFactory
	retriever         Retriever
	llm               llm.LLMProvider
	webhooks          IWebhookService
	defaultCollection string
	logger            logger.ILogger
}

func NewQueryService(
	uowFactory unitofwork.RepositoryFactory,
	retriever Retriever,
	provider llm.LLMProvider,
	webhooks IWebhookService,
	defaultCollection string,
	log logger.ILogger,
) IQueryService {
	return &queryService{
		uowFactory:        uowFactory,
		retriever:         retriever,
		llm:               provider,
		webhooks:          webhooks,
		defaultCollection: defaultCollection,
		logger:            log,
	}
}

func (s *queryService) Ask(ctx context.Context, req *dto.QueryRequest) (*dto.QueryResponse, error) {
	ctx, span := otel.Tracer("service/query").Start(ctx, "Ask",
		trace.WithAttributes(attribute.String("agent.id", req.AgentId.String())))
	defer span.End()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	agent, err := uow.AgentRepository().FindOne(ctx, specification.ByID{ID: req.AgentId})
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}

	cfg := agent.RetrievalConfig()
	if cfg.Collection == "" {
		cfg.Collection = s.defaultCollection
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.Id, err)
	}

	result := s.retriever.Retrieve(ctx, cfg, req.Query)
	resp := &dto.QueryResponse{
		AgentId:    agent.Id,
		Sources:    toSources(result.Hits),
		Retrieval:  toRetrievalStats(result),
		AnsweredAt: time.Now(),
	}
	if result.Learned != nil {
		resp.Learned = &dto.LearnedMatchDTO{
			Id:       result.Learned.ID,
			Question: result.Learned.Question,
			Score:    result.Learned.Score,
			Direct:   result.Direct,
		}
	}

	if result.Learned != nil && result.Direct {
		resp.Answer = result.Learned.Answer
		resp.Kind = KindLearned
	} else {
		items := prompt.FromHits(result.Hits)
		if result.Learned != nil {
			items = []prompt.ContextItem{prompt.FromLearned(result.Learned)}
		}
		messages := prompt.Assemble(prompt.Input{
			SystemPrompt:  agent.SystemPrompt,
			Context:       items,
			History:       toHistory(req.History),
			HistoryWindow: agent.HistoryWindow,
			Query:         req.Query,
			Markers:       true,
		})

		answer, err := s.llm.Chat(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("generate answer: %w", err)
		}
		parsed := marker.Parse(answer)
		resp.Answer = parsed.Text
		resp.Kind = string(parsed.Kind)
		for _, b := range parsed.Blocks {
			resp.Blocks = append(resp.Blocks, dto.BlockDTO{Title: b.Title, Content: b.Content})
		}
	}

	s.logger.Info("QUERY", "Query answered", map[string]interface{}{
		"agent_id": agent.Id.String(),
		"kind":     resp.Kind,
		"sources":  len(resp.Sources),
		"learned":  resp.Learned != nil,
	})

	if s.webhooks != nil {
		evt := events.New(events.QueryAnswered, map[string]interface{}{
			"agent_id": agent.Id.String(),
			"query":    req.Query,
			"answer":   resp.Answer,
			"kind":     resp.Kind,
			"sources":  len(resp.Sources),
		})
		if err := s.webhooks.Emit(ctx, evt); err != nil {
			s.logger.Warn("QUERY", "Failed to emit event", map[string]interface{}{
				"event": evt.EventType(),
				"error": err.Error(),
			})
		}
	}
	return resp, nil
}

func toHistory(history []dto.HistoryMessage) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	return messages
}

func toSources(hits []retrieval.Hit) []dto.SourceDTO {
	sources := make([]dto.SourceDTO, 0, len(hits))
	for _, h := range hits {
		src := dto.SourceDTO{
			PointId: h.ID,
			Score:   h.Score,
			Via:     string(h.Source),
		}
		src.DocumentId, _ = h.Payload["document_id"].(string)
		src.Category, _ = h.Payload["category"].(string)
		src.Title, _ = h.Payload["document_title"].(string)
		if idx, ok := payloadInt(h.Payload["chunk_index"]); ok {
			src.ChunkIndex = &idx
		}
		sources = append(sources, src)
	}
	return sources
}

// payloadInt reads an integer payload field, which arrives as float64 after a JSON round trip.
func payloadInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toRetrievalStats(r *retrieval.Result) dto.RetrievalStatsDTO {
	return dto.RetrievalStatsDTO{
		Categories:          r.Detection.Categories,
		DetectionMethod:     string(r.Detection.Method),
		Confidence:          r.Detection.Confidence,
		CategoryFilter:      r.Stats.CategoryFilter,
		FallbackUsed:        r.Stats.FallbackUsed,
		CountBeforeFallback: r.Stats.CountBeforeFallback,
		CountAfterFallback:  r.Stats.CountAfterFallback,
		Hydrated:            r.Stats.Hydrated,
		IterativeQuery:      r.Stats.IterativeQuery,
		IterativeAdded:      r.Stats.IterativeAdded,
		TokensUsed:          r.Stats.TokensUsed,
		Truncated:           r.Stats.Truncated,
	}
}
