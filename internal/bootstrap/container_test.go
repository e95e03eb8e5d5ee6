package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/config"
)

func offlineDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 port=1 user=test dbname=test sslmode=disable"}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func memoryConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		App: config.AppConfig{
			Port:         "0",
			Environment:  "test",
			LogFilePath:  filepath.Join(dir, "app.log"),
			BlobRoot:     dir,
			QueueBackend: "memory",
			LockBackend:  "local",
		},
		Ai: config.AIConfig{
			OllamaBaseURL:  "http://127.0.0.1:1",
			EmbeddingModel: "nomic-embed-text",
			LLMProvider:    "ollama",
			LLMModel:       "llama3",
			RequestTimeout: time.Second,
		},
		VectorStore: config.VectorStoreConfig{
			Backend:            "memory",
			DocumentCollection: "documents",
			LearningCollection: "learned_responses",
			Distance:           "Cosine",
		},
		Chunking: config.ChunkingConfig{
			Strategy:      "recursive",
			MaxTokens:     512,
			OverlapTokens: 50,
		},
		Embedding: config.EmbeddingConfig{CacheBackend: "memory", CacheTTL: time.Hour},
		Webhook:   config.WebhookConfig{Timeout: time.Second, LogFilePath: filepath.Join(dir, "webhook.log")},
		Worker:    config.WorkerConfig{MaxAttempts: 3, IndexBatchSize: 50},
		Category:  config.CategoryConfig{MinSimilarity: 0.45, RelativeMargin: 0.15, MaxCategories: 3},
	}
}

func TestNewContainer_MemoryBackends(t *testing.T) {
	c, err := NewContainer(context.Background(), offlineDB(t), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.NotNil(t, c.DocumentController)
	assert.NotNil(t, c.AgentController)
	assert.NotNil(t, c.HealthController)
	assert.NotNil(t, c.ConsumerService)
}

func TestNewContainer_RejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"vector store", func(c *config.Config) { c.VectorStore.Backend = "milvus" }},
		{"queue", func(c *config.Config) { c.App.QueueBackend = "kafka" }},
		{"llm provider", func(c *config.Config) { c.Ai.LLMProvider = "gemini" }},
		{"chunk strategy", func(c *config.Config) { c.Chunking.Strategy = "semantic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig(t)
			tt.mutate(cfg)
			_, err := NewContainer(context.Background(), offlineDB(t), cfg)
			assert.Error(t, err)
		})
	}
}
