package retrieval

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultScoreThreshold        = 0.5
	DefaultMaxResults            = 5
	DefaultLearnedThreshold      = 0.85
	DefaultDirectAnswerThreshold = 0.95
	DefaultPayloadKey            = "document_id"
)

var (
	validate   = validator.New()
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func init() {
	_ = validate.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return identifier.MatchString(fl.Field().String())
	})
}

// AgentConfig holds the retrieval settings of one calling context.
type AgentConfig struct {
	AgentID               string  `validate:"required"`
	Collection            string  `validate:"required"`
	ScoreThreshold        float64 `validate:"gte=0,lte=1"`
	MaxResults            int     `validate:"gte=1,lte=100"`
	UseCategoryFilter     bool
	IterativeSearch       bool
	MaxContextTokens      int     `validate:"gte=0"`       // 0 disables truncation
	LearnedThreshold      float64 `validate:"gte=0,lte=1"` // 0 disables the learned lookup
	DirectAnswerThreshold float64 `validate:"gte=0,lte=1"`
	Hydration             *HydrationConfig
}

// Relation is a child table fetched alongside the hydrated row, joined on ForeignKey.
type Relation struct {
	Name       string `validate:"required,sqlident" json:"name"`
	Table      string `validate:"required,sqlident" json:"table"`
	ForeignKey string `validate:"required,sqlident" json:"foreign_key"`
}

// HydrationConfig maps vector hits back to relational rows. PayloadKey names the payload field
// that holds the row key.
type HydrationConfig struct {
	Table      string     `validate:"required,sqlident" json:"table"`
	KeyField   string     `validate:"required,sqlident" json:"key_field"`
	PayloadKey string     `json:"payload_key"`
	Relations  []Relation `validate:"dive" json:"relations"`
}

func DefaultAgentConfig(agentID, collection string) AgentConfig {
	return AgentConfig{
		AgentID:               agentID,
		Collection:            collection,
		ScoreThreshold:        DefaultScoreThreshold,
		MaxResults:            DefaultMaxResults,
		UseCategoryFilter:     true,
		LearnedThreshold:      DefaultLearnedThreshold,
		DirectAnswerThreshold: DefaultDirectAnswerThreshold,
	}
}

func (c AgentConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}
	if c.LearnedThreshold > 0 && c.DirectAnswerThreshold > 0 && c.DirectAnswerThreshold < c.LearnedThreshold {
		return fmt.Errorf("invalid agent config: direct answer threshold %.2f below learned threshold %.2f",
			c.DirectAnswerThreshold, c.LearnedThreshold)
	}
	if c.Hydration != nil {
		return c.Hydration.Validate()
	}
	return nil
}

func (h HydrationConfig) Validate() error {
	if err := validate.Struct(h); err != nil {
		return fmt.Errorf("invalid hydration config: %w", err)
	}
	return nil
}

func (h HydrationConfig) payloadKey() string {
	if h.PayloadKey == "" {
		return DefaultPayloadKey
	}
	return h.PayloadKey
}
