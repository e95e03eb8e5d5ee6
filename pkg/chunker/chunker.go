package chunker

import (
	"context"
	"errors"
	"strings"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/pkg/llm"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
)

var (
	ErrNoChunks           = errors.New("chunker: no chunks produced")
	ErrInvalidLLMResponse = errors.New("chunker: invalid LLM response")
	ErrWindowTooSmall     = errors.New("chunker: window below minimum word count")
	ErrNoLLM              = errors.New("chunker: llm_assisted strategy needs an LLM provider")
)

// Chunk is one retrievable unit. Offsets are rune offsets into the source text.
type Chunk struct {
	Index       int
	Content     string
	StartOffset int
	EndOffset   int
	TokenCount  int

	// Set by the llm_assisted strategy only.
	Summary  string
	Keywords []string
	Category string
}

type NewCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type WindowError struct {
	Window int
	Err    error
}

type Result struct {
	Chunks        []Chunk
	NewCategories []NewCategory
	WindowErrors  []WindowError
}

type Chunker struct {
	llm    llm.LLMProvider
	logger logger.ILogger
}

// NewChunker builds a chunker. provider may be nil when llm_assisted is never requested.
func NewChunker(provider llm.LLMProvider, log logger.ILogger) *Chunker {
	return &Chunker{llm: provider, logger: log}
}

func (c *Chunker) Chunk(ctx context.Context, text string, settings Settings) (*Result, error) {
	if err := settings.Validate(); err != nil {
		return nil, ragerr.New(ragerr.KindChunking, "chunk", err)
	}

	runes := []rune(text)
	maxChars := settings.MaxTokens * 4
	overlapChars := settings.OverlapTokens * 4
	whole := span{0, len(runes)}

	var result *Result
	switch settings.Strategy {
	case StrategyFixedSize:
		result = &Result{Chunks: buildChunks(runes, fixedSpans(runes, whole, maxChars, overlapChars))}
	case StrategySentence:
		result = &Result{Chunks: buildChunks(runes, unitSpans(runes, sentenceUnits(runes, whole), settings))}
	case StrategyParagraph:
		result = &Result{Chunks: buildChunks(runes, unitSpans(runes, paragraphUnits(runes, whole), settings))}
	case StrategyRecursive:
		result = &Result{Chunks: buildChunks(runes, recursiveSpans(runes, whole, recursiveSeparators, maxChars, overlapChars))}
	case StrategyLLMAssisted:
		var err error
		result, err = c.chunkWithLLM(ctx, runes, settings)
		if err != nil {
			return nil, err
		}
	}

	if len(result.Chunks) == 0 {
		return nil, ragerr.New(ragerr.KindChunking, "chunk", ErrNoChunks)
	}

	c.logger.Info("CHUNKER", "Text chunked", map[string]interface{}{
		"strategy":       string(settings.Strategy),
		"chunks":         len(result.Chunks),
		"new_categories": len(result.NewCategories),
		"window_errors":  len(result.WindowErrors),
	})
	return result, nil
}

// unitSpans packs sentence or paragraph units. When the primary splitter finds a single unit
// in a text larger than half the budget, it retries on single newlines, then fixed size.
func unitSpans(text []rune, units []span, settings Settings) []span {
	maxChars := settings.MaxTokens * 4
	overlapChars := settings.OverlapTokens * 4
	whole := span{0, len(text)}

	if len(units) <= 1 && EstimateTokens(string(text)) > settings.MaxTokens/2 {
		units = lineUnits(text, whole)
		if len(units) <= 1 {
			return fixedSpans(text, whole, maxChars, overlapChars)
		}
	}
	return pack(text, units, maxChars, overlapChars)
}

// buildChunks trims each span, drops blank ones and numbers the rest from zero.
func buildChunks(text []rune, spans []span) []Chunk {
	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		start, end := sp.start, sp.end
		for start < end && isSpace(text[start]) {
			start++
		}
		for end > start && isSpace(text[end-1]) {
			end--
		}
		if start == end {
			continue
		}
		content := string(text[start:end])
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Content:     content,
			StartOffset: start,
			EndOffset:   end,
			TokenCount:  EstimateTokens(content),
		})
	}
	return chunks
}

func joinErrors(errs []WindowError) string {
	parts := make([]string, 0, len(errs))
	for _, we := range errs {
		parts = append(parts, we.Err.Error())
	}
	return strings.Join(parts, "; ")
}
