package category

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/embedding"
)

type Method string

const (
	MethodKeyword   Method = "keyword"
	MethodEmbedding Method = "embedding"
	MethodNone      Method = "none"
)

type Category struct {
	Name        string
	Description string
}

// Scope restricts candidates to categories used by one agent's chunks. The zero Scope means
// every category used by any chunk.
type Scope struct {
	AgentID string
}

type Source interface {
	UsedCategories(ctx context.Context, scope Scope) ([]Category, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Detection struct {
	Categories []string
	Confidence float64
	Method     Method
}

func none() Detection {
	return Detection{Categories: []string{}, Method: MethodNone}
}

type Options struct {
	KeywordConfidence float64
	MinSimilarity     float64
	RelativeMargin    float64 // keep candidates within this fraction of the best score
	MaxCategories     int
	MinPrefix         int
	MaxPrefix         int
	MinWordLength     int
}

func DefaultOptions() Options {
	return Options{
		KeywordConfidence: 0.9,
		MinSimilarity:     0.45,
		RelativeMargin:    0.15,
		MaxCategories:     3,
		MinPrefix:         4,
		MaxPrefix:         6,
		MinWordLength:     3,
	}
}

type Detector struct {
	source   Source
	embedder Embedder
	logger   logger.ILogger
	opts     Options
}

func NewDetector(source Source, embedder Embedder, log logger.ILogger, opts Options) *Detector {
	return &Detector{source: source, embedder: embedder, logger: log, opts: opts}
}

// Detect runs the keyword tier and, only when it finds nothing, the embedding tier.
func (d *Detector) Detect(ctx context.Context, query string, scope Scope) Detection {
	candidates, err := d.source.UsedCategories(ctx, scope)
	if err != nil {
		d.logger.Warn("CATEGORY", "Failed to load candidate categories", map[string]interface{}{
			"agent_id": scope.AgentID,
			"error":    err.Error(),
		})
		return none()
	}
	candidates = dedupe(candidates)
	if len(candidates) == 0 || strings.TrimSpace(query) == "" {
		return none()
	}

	if matched := d.keywordMatch(query, candidates); len(matched) > 0 {
		return Detection{Categories: matched, Confidence: d.opts.KeywordConfidence, Method: MethodKeyword}
	}
	return d.embeddingMatch(ctx, query, candidates)
}

func dedupe(in []Category) []Category {
	seen := make(map[string]bool, len(in))
	out := make([]Category, 0, len(in))
	for _, c := range in {
		name := strings.TrimSpace(c.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.Name = name
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (d *Detector) keywordMatch(query string, candidates []Category) []string {
	lowered := strings.ToLower(query)
	var matched []string
	for _, c := range candidates {
		if strings.Contains(lowered, strings.ToLower(c.Name)) {
			matched = append(matched, c.Name)
		}
	}
	if len(matched) > 0 {
		return matched
	}

	queryWords := d.significant(words(query))
	for _, c := range candidates {
		if d.stemMatch(queryWords, d.significant(words(c.Name))) {
			matched = append(matched, c.Name)
		}
	}
	return matched
}

func (d *Detector) significant(ws []string) []string {
	out := ws[:0]
	for _, w := range ws {
		if len([]rune(w)) >= d.opts.MinWordLength {
			out = append(out, w)
		}
	}
	return out
}

func (d *Detector) stemMatch(queryWords, categoryWords []string) bool {
	for _, qw := range queryWords {
		for _, cw := range categoryWords {
			if strings.Contains(qw, cw) || strings.Contains(cw, qw) || d.sharePrefix(qw, cw) {
				return true
			}
		}
	}
	return false
}

// sharePrefix compares the first min(MaxPrefix, len a, len b) runes, provided that is at
// least MinPrefix.
func (d *Detector) sharePrefix(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	n := d.opts.MaxPrefix
	if len(ra) < n {
		n = len(ra)
	}
	if len(rb) < n {
		n = len(rb)
	}
	if n < d.opts.MinPrefix {
		return false
	}
	return string(ra[:n]) == string(rb[:n])
}

type scored struct {
	name  string
	score float64
}

func (d *Detector) embeddingMatch(ctx context.Context, query string, candidates []Category) Detection {
	if d.embedder == nil {
		return none()
	}
	queryVec, err := d.embedder.Embed(ctx, query)
	if err != nil {
		d.logger.Warn("CATEGORY", "Query embedding failed", map[string]interface{}{"error": err.Error()})
		return none()
	}

	var passing []scored
	for _, c := range candidates {
		text := c.Name
		if desc := strings.TrimSpace(c.Description); desc != "" {
			text = c.Name + ": " + desc
		}
		vec, err := d.embedder.Embed(ctx, text)
		if err != nil {
			d.logger.Warn("CATEGORY", "Category embedding failed", map[string]interface{}{
				"category": c.Name,
				"error":    err.Error(),
			})
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil || sim < d.opts.MinSimilarity {
			continue
		}
		passing = append(passing, scored{name: c.Name, score: sim})
	}
	if len(passing) == 0 {
		return none()
	}

	sort.SliceStable(passing, func(i, j int) bool {
		if passing[i].score != passing[j].score {
			return passing[i].score > passing[j].score
		}
		return passing[i].name < passing[j].name
	})

	best := passing[0].score
	floor := best * (1 - d.opts.RelativeMargin)
	result := Detection{Confidence: best, Method: MethodEmbedding}
	for _, s := range passing {
		if s.score < floor || len(result.Categories) >= d.opts.MaxCategories {
			break
		}
		result.Categories = append(result.Categories, s.name)
	}
	return result
}
