package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Ai          AIConfig
	VectorStore VectorStoreConfig
	Chunking    ChunkingConfig
	Embedding   EmbeddingConfig
	Webhook     WebhookConfig
	Worker      WorkerConfig
	Category    CategoryConfig
	Tracing     TracingConfig
}

type AppConfig struct {
	Port         string
	Environment  string
	LogFilePath  string
	NatsURL      string
	RedisURL     string
	BlobRoot     string
	QueueBackend string // "nats" or "memory"
	LockBackend  string // "redis" or "local"

	CorsAllowedOrigins string
}

type DatabaseConfig struct {
	Connection   string
	Verbose      bool
	MaxIdleConns int
	MaxOpenConns int
}

type AIConfig struct {
	OllamaBaseURL  string
	EmbeddingModel string
	LLMProvider    string // "ollama"
	LLMModel       string // e.g. "llama3", "qwen2.5"
	RequestTimeout time.Duration
}

type VectorStoreConfig struct {
	Backend            string // "qdrant", "pgvector" or "memory"
	QdrantURL          string
	QdrantAPIKey       string
	Timeout            time.Duration
	DocumentCollection string
	LearningCollection string
	Distance           string
}

type ChunkingConfig struct {
	Strategy       string
	MaxTokens      int
	OverlapTokens  int
	WindowWords    int
	OverlapPercent int
	MinWindowWords int
}

type EmbeddingConfig struct {
	CacheBackend string // "redis", "memory" or "none"
	CacheTTL     time.Duration
	MaxChars     int
}

type WebhookConfig struct {
	Timeout     time.Duration
	LogFilePath string
}

type CategoryConfig struct {
	MinSimilarity  float64
	RelativeMargin float64
	MaxCategories  int
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type WorkerConfig struct {
	TaskTimeout    time.Duration // 0 means no timeout
	MaxAttempts    int
	IndexBatchSize int
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:         getEnv("APP_PORT", "3000"),
			Environment:  getEnv("GO_ENV", "development"),
			LogFilePath:  getEnv("LOG_FILE_PATH", "logs/app.log"),
			NatsURL:      getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
			BlobRoot:     getEnv("BLOB_ROOT", "./storage"),
			QueueBackend: getEnv("QUEUE_BACKEND", "nats"),
			LockBackend:  getEnv("LOCK_BACKEND", "redis"),

			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Connection:   getEnv("DB_CONNECTION_STRING", ""),
			Verbose:      getEnvAsBool("DB_VERBOSE", false),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		},
		Ai: AIConfig{
			OllamaBaseURL:  getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMProvider:    getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:       getEnv("LLM_MODEL", "llama3"),
			RequestTimeout: getEnvAsDuration("LLM_REQUEST_TIMEOUT", 120*time.Second),
		},
		VectorStore: VectorStoreConfig{
			Backend:            getEnv("VECTOR_STORE", "qdrant"),
			QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
			QdrantAPIKey:       getEnv("QDRANT_API_KEY", ""),
			Timeout:            getEnvAsDuration("QDRANT_TIMEOUT", 30*time.Second),
			DocumentCollection: getEnv("QDRANT_DOCUMENT_COLLECTION", "documents"),
			LearningCollection: getEnv("QDRANT_LEARNING_COLLECTION", "learned_responses"),
			Distance:           getEnv("QDRANT_DISTANCE", "Cosine"),
		},
		Chunking: ChunkingConfig{
			Strategy:       getEnv("CHUNK_STRATEGY", "recursive"),
			MaxTokens:      getEnvAsInt("CHUNK_MAX_TOKENS", 512),
			OverlapTokens:  getEnvAsInt("CHUNK_OVERLAP_TOKENS", 50),
			WindowWords:    getEnvAsInt("LLM_CHUNK_WINDOW_WORDS", 1500),
			OverlapPercent: getEnvAsInt("LLM_CHUNK_OVERLAP_PERCENT", 10),
			MinWindowWords: getEnvAsInt("LLM_CHUNK_MIN_WORDS", 20),
		},
		Embedding: EmbeddingConfig{
			CacheBackend: getEnv("EMBEDDING_CACHE", "redis"),
			CacheTTL:     getEnvAsDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
			MaxChars:     getEnvAsInt("EMBEDDING_MAX_CHARS", 8000),
		},
		Webhook: WebhookConfig{
			Timeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", 30*time.Second),
			LogFilePath: getEnv("WEBHOOK_LOG_FILE_PATH", "logs/webhook.log"),
		},
		Worker: WorkerConfig{
			TaskTimeout:    getEnvAsDuration("TASK_TIMEOUT", 10*time.Minute),
			MaxAttempts:    getEnvAsInt("TASK_MAX_ATTEMPTS", 3),
			IndexBatchSize: getEnvAsInt("INDEX_BATCH_SIZE", 50),
		},
		Category: CategoryConfig{
			MinSimilarity:  getEnvAsFloat("CATEGORY_MIN_SIMILARITY", 0.45),
			RelativeMargin: getEnvAsFloat("CATEGORY_RELATIVE_MARGIN", 0.15),
			MaxCategories:  getEnvAsInt("CATEGORY_MAX_RESULTS", 3),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "batirama-rag"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("90"). "0" disables the timeout.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
