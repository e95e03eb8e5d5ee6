package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/category"
	"github.com/rrbip/batirama-connect-sub002/pkg/chunker"
	"github.com/rrbip/batirama-connect-sub002/pkg/learning"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

const (
	fallbackFloor  = 2
	iterativeFloor = 3
	iterativeExtra = 3
	categoryField  = "category"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, collection string, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error)
}

type LearnedFinder interface {
	FindByVector(ctx context.Context, agentID string, vector []float32, minScore float64) (*learning.Match, error)
}

type CategoryDetector interface {
	Detect(ctx context.Context, query string, scope category.Scope) category.Detection
}

// Hydrator fetches relational rows by key. The returned map is keyed by the stringified key.
type Hydrator interface {
	Hydrate(ctx context.Context, cfg HydrationConfig, keys []string) (map[string]map[string]any, error)
}

type Source string

const (
	SourceSearch    Source = "search"
	SourceFiltered  Source = "filtered"
	SourceFallback  Source = "fallback"
	SourceIterative Source = "iterative"
)

type Hit struct {
	ID       string
	Score    float64
	Content  string
	Payload  map[string]any
	Hydrated map[string]any
	Source   Source
}

type Stats struct {
	CategoryFilter      bool
	FallbackUsed        bool
	CountBeforeFallback int
	CountAfterFallback  int
	Hydrated            int
	IterativeUsed       bool
	IterativeQuery      string
	IterativeAdded      int
	TokensUsed          int
	Truncated           int
}

type Result struct {
	Learned   *learning.Match
	Direct    bool // learned score reached the direct-answer threshold
	Hits      []Hit
	Detection category.Detection
	Stats     Stats
}

type Orchestrator struct {
	embedder Embedder
	searcher Searcher
	learned  LearnedFinder
	detector CategoryDetector
	hydrator Hydrator
	logger   logger.ILogger
}

// NewOrchestrator wires the retrieval steps. learned, detector and hydrator may be nil, which
// disables their step.
func NewOrchestrator(
	embedder Embedder,
	searcher Searcher,
	learned LearnedFinder,
	detector CategoryDetector,
	hydrator Hydrator,
	log logger.ILogger,
) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		searcher: searcher,
		learned:  learned,
		detector: detector,
		hydrator: hydrator,
		logger:   log,
	}
}

// Retrieve never fails: a step that errors contributes nothing and the remaining steps run.
func (o *Orchestrator) Retrieve(ctx context.Context, cfg AgentConfig, query string) *Result {
	ctx, span := otel.Tracer("rag/retrieval").Start(ctx, "Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", cfg.AgentID), attribute.String("collection", cfg.Collection))

	result := &Result{Hits: []Hit{}, Detection: category.Detection{Categories: []string{}, Method: category.MethodNone}}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		o.logger.Error("RETRIEVAL", "Query embedding failed", map[string]interface{}{
			"agent_id": cfg.AgentID,
			"error":    err.Error(),
		})
		span.RecordError(err)
		return result
	}

	if match := o.lookupLearned(ctx, cfg, vector); match != nil {
		result.Learned = match
		result.Direct = cfg.DirectAnswerThreshold > 0 && match.Score >= cfg.DirectAnswerThreshold
		span.SetAttributes(attribute.Bool("learned", true), attribute.Float64("learned.score", match.Score))
		o.logger.Info("RETRIEVAL", "Learned response matched", map[string]interface{}{
			"agent_id": cfg.AgentID,
			"id":       match.ID,
			"score":    match.Score,
			"direct":   result.Direct,
		})
		return result
	}

	hits := o.searchWithFallback(ctx, cfg, query, vector, result)
	o.hydrate(ctx, cfg, hits, &result.Stats)
	hits = o.iterate(ctx, cfg, query, hits, &result.Stats)
	result.Hits = truncate(hits, cfg.MaxContextTokens, &result.Stats)

	span.SetAttributes(
		attribute.Int("hits", len(result.Hits)),
		attribute.Bool("fallback", result.Stats.FallbackUsed),
		attribute.Bool("iterative", result.Stats.IterativeUsed),
	)
	o.logger.Info("RETRIEVAL", "Retrieval complete", map[string]interface{}{
		"agent_id":   cfg.AgentID,
		"hits":       len(result.Hits),
		"categories": result.Detection.Categories,
		"method":     string(result.Detection.Method),
		"confidence": result.Detection.Confidence,
		"fallback":   result.Stats.FallbackUsed,
		"before":     result.Stats.CountBeforeFallback,
		"after":      result.Stats.CountAfterFallback,
		"iterative":  result.Stats.IterativeUsed,
		"hydrated":   result.Stats.Hydrated,
		"truncated":  result.Stats.Truncated,
		"tokens":     result.Stats.TokensUsed,
	})
	return result
}

func (o *Orchestrator) lookupLearned(ctx context.Context, cfg AgentConfig, vector []float32) *learning.Match {
	if o.learned == nil || cfg.LearnedThreshold <= 0 {
		return nil
	}
	match, err := o.learned.FindByVector(ctx, cfg.AgentID, vector, cfg.LearnedThreshold)
	if err != nil {
		o.logger.Warn("RETRIEVAL", "Learned lookup failed", map[string]interface{}{
			"agent_id": cfg.AgentID,
			"error":    err.Error(),
		})
		return nil
	}
	if match == nil || match.Score < cfg.LearnedThreshold {
		return nil
	}
	return match
}

func (o *Orchestrator) searchWithFallback(ctx context.Context, cfg AgentConfig, query string, vector []float32, result *Result) []Hit {
	var filter *vectorstore.Filter
	if cfg.UseCategoryFilter && o.detector != nil {
		result.Detection = o.detector.Detect(ctx, query, category.Scope{AgentID: cfg.AgentID})
		filter = categoryFilter(result.Detection.Categories)
	}

	if filter == nil {
		hits := o.search(ctx, cfg, vector, nil, cfg.MaxResults, SourceSearch)
		result.Stats.CountBeforeFallback = len(hits)
		result.Stats.CountAfterFallback = len(hits)
		return hits
	}

	result.Stats.CategoryFilter = true
	hits := o.search(ctx, cfg, vector, filter, cfg.MaxResults, SourceFiltered)
	result.Stats.CountBeforeFallback = len(hits)
	if len(hits) < fallbackFloor {
		result.Stats.FallbackUsed = true
		wide := o.search(ctx, cfg, vector, nil, cfg.MaxResults, SourceFallback)
		hits = merge(hits, wide, cfg.MaxResults)
	}
	result.Stats.CountAfterFallback = len(hits)
	return hits
}

func (o *Orchestrator) search(ctx context.Context, cfg AgentConfig, vector []float32, filter *vectorstore.Filter, limit int, source Source) []Hit {
	points, err := o.searcher.Search(ctx, cfg.Collection, vectorstore.SearchRequest{
		Vector:         vector,
		Limit:          limit,
		Filter:         filter,
		ScoreThreshold: cfg.ScoreThreshold,
	})
	if err != nil {
		o.logger.Warn("RETRIEVAL", "Vector search failed", map[string]interface{}{
			"agent_id":   cfg.AgentID,
			"collection": cfg.Collection,
			"source":     string(source),
			"error":      err.Error(),
		})
		return nil
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		content, _ := p.Payload["content"].(string)
		hits = append(hits, Hit{ID: p.ID, Score: p.Score, Content: content, Payload: p.Payload, Source: source})
	}
	return hits
}

// merge keeps every hit of base and appends extra hits with unseen ids until limit is reached.
func merge(base, extra []Hit, limit int) []Hit {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]Hit, 0, limit)
	for _, h := range base {
		if len(out) >= limit {
			break
		}
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	for _, h := range extra {
		if len(out) >= limit {
			break
		}
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out = append(out, h)
	}
	return out
}

func (o *Orchestrator) hydrate(ctx context.Context, cfg AgentConfig, hits []Hit, stats *Stats) {
	if o.hydrator == nil || cfg.Hydration == nil || len(hits) == 0 {
		return
	}
	key := cfg.Hydration.payloadKey()
	var keys []string
	seen := map[string]bool{}
	for _, h := range hits {
		if h.Hydrated != nil {
			continue
		}
		raw, ok := h.Payload[key]
		if !ok || raw == nil {
			continue
		}
		k := fmt.Sprint(raw)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}

	rows, err := o.hydrator.Hydrate(ctx, *cfg.Hydration, keys)
	if err != nil {
		o.logger.Warn("RETRIEVAL", "Hydration failed", map[string]interface{}{
			"agent_id": cfg.AgentID,
			"table":    cfg.Hydration.Table,
			"error":    err.Error(),
		})
		return
	}
	for i := range hits {
		if hits[i].Hydrated != nil {
			continue
		}
		if row, ok := rows[fmt.Sprint(hits[i].Payload[key])]; ok {
			hits[i].Hydrated = row
			stats.Hydrated++
		}
	}
}

func (o *Orchestrator) iterate(ctx context.Context, cfg AgentConfig, query string, hits []Hit, stats *Stats) []Hit {
	if !cfg.IterativeSearch || len(hits) >= iterativeFloor {
		return hits
	}
	simplified := Simplify(query)
	if simplified == "" || simplified == query {
		return hits
	}
	stats.IterativeUsed = true
	stats.IterativeQuery = simplified

	vector, err := o.embedder.Embed(ctx, simplified)
	if err != nil {
		o.logger.Warn("RETRIEVAL", "Iterative query embedding failed", map[string]interface{}{
			"agent_id": cfg.AgentID,
			"error":    err.Error(),
		})
		return hits
	}
	more := o.search(ctx, cfg, vector, nil, len(hits)+iterativeExtra, SourceIterative)
	merged := merge(hits, more, len(hits)+iterativeExtra)
	added := merged[len(hits):]
	o.hydrate(ctx, cfg, added, stats)
	stats.IterativeAdded = len(added)
	return merged
}

// truncate keeps hits in rank order until the next one would exceed the token budget.
func truncate(hits []Hit, budget int, stats *Stats) []Hit {
	used := 0
	for i, h := range hits {
		tokens := chunker.EstimateTokens(h.Content)
		if budget > 0 && used+tokens > budget {
			stats.Truncated = len(hits) - i
			stats.TokensUsed = used
			return hits[:i]
		}
		used += tokens
	}
	stats.TokensUsed = used
	return hits
}

func categoryFilter(categories []string) *vectorstore.Filter {
	if len(categories) == 0 {
		return nil
	}
	f := &vectorstore.Filter{}
	for _, c := range categories {
		f.Should = append(f.Should, vectorstore.MatchValue(categoryField, c))
	}
	return f
}
