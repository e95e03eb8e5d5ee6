package factory

import (
	"fmt"
	"time"

	"github.com/rrbip/batirama-connect-sub002/pkg/llm"
	"github.com/rrbip/batirama-connect-sub002/pkg/llm/ollama"
)

func NewLLMProvider(providerType, modelName, baseURL string, timeout time.Duration) (llm.LLMProvider, error) {
	switch providerType {
	case "ollama", "":
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		if modelName == "" {
			return nil, fmt.Errorf("ollama provider requires a model name")
		}
		return ollama.NewOllamaProvider(baseURL, modelName, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
