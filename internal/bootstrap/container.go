package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/config"
	"github.com/rrbip/batirama-connect-sub002/internal/controller"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/internal/service"
	"github.com/rrbip/batirama-connect-sub002/pkg/category"
	"github.com/rrbip/batirama-connect-sub002/pkg/chunker"
	"github.com/rrbip/batirama-connect-sub002/pkg/embedding"
	"github.com/rrbip/batirama-connect-sub002/pkg/extractor"
	"github.com/rrbip/batirama-connect-sub002/pkg/learning"
	"github.com/rrbip/batirama-connect-sub002/pkg/llm/factory"
	"github.com/rrbip/batirama-connect-sub002/pkg/lock"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue/memqueue"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue/natsqueue"
	"github.com/rrbip/batirama-connect-sub002/pkg/rag/retrieval"
	"github.com/rrbip/batirama-connect-sub002/pkg/storage"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore/memstore"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore/pgstore"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore/qdrant"
	"github.com/rrbip/batirama-connect-sub002/pkg/webhook"
)

type Container struct {
	// Controllers
	DocumentController controller.IDocumentController
	AgentController    controller.IAgentController
	HealthController   controller.IHealthController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	Logger logger.ILogger

	closers []io.Closer
}

func NewContainer(ctx context.Context, db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	webhookLogger := logger.NewIsolatedLogger(cfg.Webhook.LogFilePath)

	c := &Container{Logger: sysLogger}

	// 2. Infrastructure
	var rdb *redis.Client
	if cfg.Embedding.CacheBackend == "redis" || cfg.App.LockBackend == "redis" {
		rdb = newRedisClient(ctx, cfg.App.RedisURL, sysLogger)
		c.closers = append(c.closers, rdb)
	}

	vectors, err := newVectorStore(cfg.VectorStore, db)
	if err != nil {
		return nil, err
	}
	sysLogger.Info("BOOTSTRAP", "Vector store selected", map[string]interface{}{
		"backend": cfg.VectorStore.Backend,
	})

	tasks, err := newQueue(ctx, cfg, sysLogger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, tasks)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.App.LockBackend == "redis" {
		locker = lock.NewRedisLocker(rdb, "lock:")
	}

	// 3. Engines
	var cache embedding.Cache
	switch cfg.Embedding.CacheBackend {
	case "redis":
		cache = embedding.NewRedisCache(rdb, "")
	case "memory":
		cache = embedding.NewMemoryCache(cfg.Embedding.CacheTTL)
	default:
		cache = embedding.NoopCache{}
	}
	embedder := embedding.NewEmbedder(
		embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel, cfg.Ai.RequestTimeout),
		cache,
		sysLogger,
		embedding.Options{MaxChars: cfg.Embedding.MaxChars, CacheTTL: cfg.Embedding.CacheTTL},
	)
	sysLogger.Info("BOOTSTRAP", "Using embedding model", map[string]interface{}{
		"model": cfg.Ai.EmbeddingModel,
		"cache": cfg.Embedding.CacheBackend,
	})

	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.OllamaBaseURL,
		cfg.Ai.RequestTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	sysLogger.Info("BOOTSTRAP", "Using LLM provider", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	textExtractor := extractor.NewExtractor(storage.NewLocalStore(cfg.App.BlobRoot), extractor.ExecRunner{}, sysLogger)
	textChunker := chunker.NewChunker(llmProvider, sysLogger)
	learningStore := learning.NewStore(vectors, embedder, cfg.VectorStore.LearningCollection, sysLogger)

	detectorOpts := category.DefaultOptions()
	detectorOpts.MinSimilarity = cfg.Category.MinSimilarity
	detectorOpts.RelativeMargin = cfg.Category.RelativeMargin
	detectorOpts.MaxCategories = cfg.Category.MaxCategories
	detector := category.NewDetector(service.NewCategorySource(uowFactory), embedder, sysLogger, detectorOpts)

	orchestrator := retrieval.NewOrchestrator(
		embedder,
		vectors,
		learningStore,
		detector,
		retrieval.NewGormHydrator(db),
		sysLogger,
	)

	// 4. Services
	webhookService := service.NewWebhookService(
		uowFactory,
		tasks,
		webhook.NewSender(cfg.Webhook.Timeout),
		locker,
		webhookLogger,
	)

	chunkSettings := chunker.Settings{
		Strategy:       chunker.Strategy(cfg.Chunking.Strategy),
		MaxTokens:      cfg.Chunking.MaxTokens,
		OverlapTokens:  cfg.Chunking.OverlapTokens,
		WindowWords:    cfg.Chunking.WindowWords,
		OverlapPercent: cfg.Chunking.OverlapPercent,
		MinWindowWords: cfg.Chunking.MinWindowWords,
	}
	if err := chunkSettings.Validate(); err != nil {
		return nil, err
	}

	ingestionService := service.NewIngestionService(
		uowFactory,
		tasks,
		textExtractor,
		textChunker,
		embedder,
		vectors,
		locker,
		webhookService,
		service.IngestionOptions{
			ChunkSettings:     chunkSettings,
			DefaultCollection: cfg.VectorStore.DocumentCollection,
			Distance:          vectorstore.Distance(cfg.VectorStore.Distance),
			BatchSize:         cfg.Worker.IndexBatchSize,
			MaxAttempts:       cfg.Worker.MaxAttempts,
			LockTTL:           ackWait(cfg.Worker.TaskTimeout),
		},
		sysLogger,
	)
	queryService := service.NewQueryService(
		uowFactory,
		orchestrator,
		llmProvider,
		webhookService,
		cfg.VectorStore.DocumentCollection,
		sysLogger,
	)
	learningService := service.NewLearningService(uowFactory, learningStore, webhookService, sysLogger)

	c.ConsumerService = service.NewConsumerService(
		tasks,
		ingestionService,
		webhookService,
		cfg.Worker.TaskTimeout,
		sysLogger,
	)

	// 5. Controllers
	c.DocumentController = controller.NewDocumentController(ingestionService)
	c.AgentController = controller.NewAgentController(queryService, learningService)
	c.HealthController = controller.NewHealthController(healthChecks(db, vectors, rdb))

	return c, nil
}

// Close releases the queue connection and the redis client.
func (c *Container) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.Logger.Sync()
	return firstErr
}

func newRedisClient(ctx context.Context, url string, log logger.ILogger) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("BOOTSTRAP", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{
			"error": err.Error(),
		})
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Warn("BOOTSTRAP", "Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return rdb
}

func newVectorStore(cfg config.VectorStoreConfig, db *gorm.DB) (vectorstore.Store, error) {
	switch cfg.Backend {
	case "qdrant":
		return qdrant.NewClient(qdrant.Config{
			URL:     cfg.QdrantURL,
			APIKey:  cfg.QdrantAPIKey,
			Timeout: cfg.Timeout,
		}), nil
	case "pgvector":
		return pgstore.NewStore(db), nil
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.Backend)
	}
}

func newQueue(ctx context.Context, cfg *config.Config, log logger.ILogger) (queue.Queue, error) {
	switch cfg.App.QueueBackend {
	case "nats":
		q, err := natsqueue.New(ctx, cfg.App.NatsURL, ackWait(cfg.Worker.TaskTimeout), log)
		if err != nil {
			return nil, fmt.Errorf("connect task queue: %w", err)
		}
		return q, nil
	case "memory":
		return memqueue.New(log, memqueue.DefaultOptions()), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.App.QueueBackend)
	}
}

// ackWait outlives the longest handler so JetStream does not redeliver, and a document lock does
// not expire, mid-run.
func ackWait(taskTimeout time.Duration) time.Duration {
	if taskTimeout == 0 {
		return time.Hour
	}
	return taskTimeout + time.Minute
}

func healthChecks(db *gorm.DB, vectors vectorstore.Store, rdb *redis.Client) map[string]controller.HealthCheck {
	checks := map[string]controller.HealthCheck{
		"database": func(ctx context.Context) bool {
			sqlDB, err := db.DB()
			return err == nil && sqlDB.PingContext(ctx) == nil
		},
		"vector_store": vectors.IsHealthy,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) bool {
			return rdb.Ping(ctx).Err() == nil
		}
	}
	return checks
}
