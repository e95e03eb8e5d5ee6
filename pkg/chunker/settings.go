package chunker

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Strategy string

const (
	StrategyFixedSize   Strategy = "fixed_size"
	StrategySentence    Strategy = "sentence"
	StrategyParagraph   Strategy = "paragraph"
	StrategyRecursive   Strategy = "recursive"
	StrategyLLMAssisted Strategy = "llm_assisted"
)

const (
	DefaultMaxTokens      = 512
	DefaultOverlapTokens  = 50
	DefaultWindowWords    = 1500
	DefaultOverlapPercent = 10
	DefaultMinWindowWords = 20
)

var validate = validator.New()

// Settings selects the strategy and its size limits for one document.
type Settings struct {
	Strategy      Strategy `validate:"required,oneof=fixed_size sentence paragraph recursive llm_assisted"`
	MaxTokens     int      `validate:"gt=0"`
	OverlapTokens int      `validate:"gte=0,ltfield=MaxTokens"`

	// llm_assisted only
	WindowWords     int      `validate:"gte=0"`
	OverlapPercent  int      `validate:"gte=0,lt=100"`
	MinWindowWords  int      `validate:"gte=0"`
	KnownCategories []string `validate:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		Strategy:       StrategyRecursive,
		MaxTokens:      DefaultMaxTokens,
		OverlapTokens:  DefaultOverlapTokens,
		WindowWords:    DefaultWindowWords,
		OverlapPercent: DefaultOverlapPercent,
		MinWindowWords: DefaultMinWindowWords,
	}
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid chunk settings: %w", err)
	}
	return nil
}

func (s Settings) windowWords() int {
	if s.WindowWords <= 0 {
		return DefaultWindowWords
	}
	return s.WindowWords
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}
