package embedding

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
)

var (
	ErrEmptyInput        = errors.New("embedding: empty input")
	ErrEmptyVector       = errors.New("embedding: upstream returned an empty vector")
	ErrDimensionMismatch = errors.New("embedding: vector dimensions differ")
)

const defaultMaxChars = 8000

type Options struct {
	MaxChars int
	CacheTTL time.Duration
}

// Embedder wraps a provider with input normalization and a content-hash cache.
type Embedder struct {
	provider EmbeddingProvider
	cache    Cache
	logger   logger.ILogger
	opts     Options
}

func NewEmbedder(provider EmbeddingProvider, cache Cache, log logger.ILogger, opts Options) *Embedder {
	if cache == nil {
		cache = NoopCache{}
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = defaultMaxChars
	}
	return &Embedder{provider: provider, cache: cache, logger: log, opts: opts}
}

// Normalize collapses whitespace runs and caps the text at maxChars runes.
func Normalize(text string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if maxChars > 0 && utf8.RuneCountInString(collapsed) > maxChars {
		runes := []rune(collapsed)
		collapsed = strings.TrimSpace(string(runes[:maxChars]))
	}
	return collapsed
}

// CacheKey is "emb:<model>:<blake2b-256 of the normalized text>".
func CacheKey(model, normalized string) string {
	sum := blake2b.Sum256([]byte(normalized))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

func (e *Embedder) ModelName() string {
	return e.provider.ModelName()
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := Normalize(text, e.opts.MaxChars)
	if normalized == "" {
		return nil, ragerr.New(ragerr.KindEmbedding, "embed", ErrEmptyInput)
	}

	key := CacheKey(e.provider.ModelName(), normalized)
	if cached, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("EMBEDDER", "Cache read failed", map[string]interface{}{"error": err.Error()})
	} else if ok {
		return cached, nil
	}

	vector, err := e.provider.Generate(ctx, normalized)
	if err != nil {
		return nil, ragerr.New(ragerr.KindEmbedding, "embed", err)
	}
	if len(vector) == 0 {
		return nil, ragerr.New(ragerr.KindEmbedding, "embed", ErrEmptyVector)
	}

	if err := e.cache.Set(ctx, key, vector, e.opts.CacheTTL); err != nil {
		e.logger.Warn("EMBEDDER", "Cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return vector, nil
}

// EmbedBatch embeds each entry independently. A failed entry maps to an empty vector.
func (e *Embedder) EmbedBatch(ctx context.Context, texts map[string]string) map[string][]float32 {
	out := make(map[string][]float32, len(texts))
	failed := 0
	for key, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			failed++
			e.logger.Warn("EMBEDDER", "Batch item failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			out[key] = []float32{}
			continue
		}
		out[key] = vector
	}
	if failed > 0 {
		e.logger.Info("EMBEDDER", "Batch finished with failures", map[string]interface{}{
			"total":  len(texts),
			"failed": failed,
		})
	}
	return out
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / math.Sqrt(normA*normB)
	return math.Max(-1, math.Min(1, sim)), nil
}
