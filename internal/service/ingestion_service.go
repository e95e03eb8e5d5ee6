package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/pkg/chunker"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/extractor"
	"github.com/rrbip/batirama-connect-sub002/pkg/lock"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrNothingToIndex   = errors.New("document has no chunks to index")
	ErrChunksChanged    = errors.New("document chunks changed while indexing")
)

// Payload fields written on every chunk point and indexed for filtering.
var chunkPayloadIndexes = map[string]vectorstore.FieldType{
	"document_id": vectorstore.FieldKeyword,
	"agent_id":    vectorstore.FieldKeyword,
	"category":    vectorstore.FieldKeyword,
	"chunk_index": vectorstore.FieldInteger,
}

type TextExtractor interface {
	Extract(ctx context.Context, ref extractor.FileRef) (string, error)
}

type TextChunker interface {
	Chunk(ctx context.Context, text string, settings chunker.Settings) (*chunker.Result, error)
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts map[string]string) map[string][]float32
}

type IngestionOptions struct {
	ChunkSettings     chunker.Settings
	DefaultCollection string
	Distance          vectorstore.Distance
	BatchSize         int
	MaxAttempts       int // per pipeline task; 0 uses the queue default
	LockTTL           time.Duration
}

type IIngestionService interface {
	Submit(ctx context.Context, documentId uuid.UUID) (*dto.ProcessDocumentResponse, error)
	Reindex(ctx context.Context, documentId uuid.UUID) (*dto.ProcessDocumentResponse, error)
	Deindex(ctx context.Context, documentId uuid.UUID) (*dto.DeindexDocumentResponse, error)
	SubmitPending(ctx context.Context) (*dto.SubmitPendingResponse, error)

	Extract(ctx context.Context, documentId uuid.UUID) error
	Chunk(ctx context.Context, documentId uuid.UUID) error
	Index(ctx context.Context, documentId uuid.UUID) error
}

type ingestionService struct {
	uowFactory unitofwork.RepositoryFactory
	tasks      queue.Queue
	extractor  TextExtractor
	chunker    TextChunker
	embedder   BatchEmbedder
	vectors    vectorstore.Store
	locker     lock.Locker
	webhooks   IWebhookService
	opts       IngestionOptions
	logger     logger.ILogger
}

func NewIngestionService(
	uowFactory unitofwork.RepositoryFactory,
	tasks queue.Queue,
	textExtractor TextExtractor,
	textChunker TextChunker,
	embedder BatchEmbedder,
	vectors vectorstore.Store,
	locker lock.Locker,
	webhooks IWebhookService,
	opts IngestionOptions,
	log logger.ILogger,
) IIngestionService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Distance == "" {
		opts.Distance = vectorstore.DistanceCosine
	}
	if opts.DefaultCollection == "" {
		opts.DefaultCollection = "documents"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	return &ingestionService{
		uowFactory: uowFactory,
		tasks:      tasks,
		extractor:  textExtractor,
		chunker:    textChunker,
		embedder:   embedder,
		vectors:    vectors,
		locker:     locker,
		webhooks:   webhooks,
		opts:       opts,
		logger:     log,
	}
}

func (s *ingestionService) Submit(ctx context.Context, documentId uuid.UUID) (*dto.ProcessDocumentResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: documentId})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, entity.DocumentPending, ""); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, TaskDocumentExtract, doc.Id); err != nil {
		return nil, err
	}
	return &dto.ProcessDocumentResponse{Id: doc.Id, Status: string(entity.DocumentPending)}, nil
}

// Reindex re-chunks and re-indexes from the stored text, or restarts from extraction when
// no text was ever extracted.
func (s *ingestionService) Reindex(ctx context.Context, documentId uuid.UUID) (*dto.ProcessDocumentResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: documentId})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return s.Submit(ctx, documentId)
	}

	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, entity.DocumentChunking, ""); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, TaskDocumentChunk, doc.Id); err != nil {
		return nil, err
	}
	return &dto.ProcessDocumentResponse{Id: doc.Id, Status: string(entity.DocumentChunking)}, nil
}

func (s *ingestionService) Deindex(ctx context.Context, documentId uuid.UUID) (*dto.DeindexDocumentResponse, error) {
	unlock, err := s.lockDocument(ctx, documentId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: documentId})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	collection, err := s.collectionFor(ctx, doc)
	if err != nil {
		return nil, err
	}
	filter := (&vectorstore.Filter{}).And(vectorstore.MatchValue("document_id", doc.Id.String()))
	if err := s.vectors.DeleteByFilter(ctx, collection, filter); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil, ragerr.New(ragerr.KindIndexing, "deindex", err)
	}

	if err := uow.ChunkRepository().ClearIndexed(ctx, doc.Id); err != nil {
		return nil, err
	}
	if err := uow.DocumentRepository().UpdateFields(ctx, doc.Id, map[string]interface{}{
		"is_indexed": false,
		"indexed_at": nil,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("INGESTION", "Document removed from index", map[string]interface{}{
		"document_id": doc.Id.String(),
		"collection":  collection,
	})
	return &dto.DeindexDocumentResponse{Id: doc.Id, IsIndexed: false}, nil
}

func (s *ingestionService) SubmitPending(ctx context.Context) (*dto.SubmitPendingResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	docs, err := uow.DocumentRepository().FindAll(ctx,
		specification.ByStatus{Status: entity.DocumentPending},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	submitted := 0
	for _, doc := range docs {
		if err := s.enqueue(ctx, TaskDocumentExtract, doc.Id); err != nil {
			s.logger.Error("INGESTION", "Failed to submit pending document", map[string]interface{}{
				"document_id": doc.Id.String(),
				"error":       err.Error(),
			})
			continue
		}
		submitted++
	}
	return &dto.SubmitPendingResponse{Submitted: submitted}, nil
}

func (s *ingestionService) Extract(ctx context.Context, documentId uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := s.loadDocument(ctx, uow, documentId)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, uow, doc, entity.DocumentProcessing); err != nil {
		return err
	}

	text, err := s.extractor.Extract(ctx, extractor.FileRef{Path: doc.FilePath, Type: extractor.FileType(doc.FileType)})
	if err != nil {
		return s.retryOrFail(ctx, uow, doc, entity.DocumentFailed, err)
	}

	if err := uow.DocumentRepository().UpdateFields(ctx, doc.Id, map[string]interface{}{
		"extracted_text": text,
		"status":         string(entity.DocumentChunking),
		"error_message":  "",
	}); err != nil {
		return err
	}
	doc.ExtractedText = text
	doc.Status = entity.DocumentChunking
	s.logStage(doc, "extract")
	return s.enqueue(ctx, TaskDocumentChunk, doc.Id)
}

func (s *ingestionService) Chunk(ctx context.Context, documentId uuid.UUID) error {
	unlock, err := s.lockDocument(ctx, documentId)
	if err != nil {
		return err
	}
	defer unlock()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := s.loadDocument(ctx, uow, documentId)
	if err != nil {
		return err
	}
	agent, err := s.loadAgent(ctx, uow, doc)
	if err != nil {
		return err
	}

	settings := s.opts.ChunkSettings
	if agent != nil {
		settings = agent.ChunkSettings(settings)
	}
	if doc.ChunkStrategy != "" {
		settings.Strategy = chunker.Strategy(doc.ChunkStrategy)
	}

	stage := entity.DocumentChunking
	if settings.Strategy == chunker.StrategyLLMAssisted {
		stage = entity.DocumentEnriching
		known, err := uow.CategoryRepository().FindAll(ctx, specification.OrderBy{Field: "name"})
		if err != nil {
			return err
		}
		settings.KnownCategories = make([]string, 0, len(known))
		for _, c := range known {
			settings.KnownCategories = append(settings.KnownCategories, c.Name)
		}
	}
	if err := s.transition(ctx, uow, doc, stage); err != nil {
		return err
	}

	result, err := s.chunker.Chunk(ctx, doc.ExtractedText, settings)
	if err != nil {
		return s.retryOrFail(ctx, uow, doc, entity.DocumentChunkError, err)
	}
	for _, we := range result.WindowErrors {
		s.logger.Warn("INGESTION", "Chunking window skipped", map[string]interface{}{
			"document_id": doc.Id.String(),
			"window":      we.Window,
			"error":       we.Err.Error(),
		})
	}

	previousCount := doc.ChunkCount
	if err := s.replaceChunks(ctx, doc, result); err != nil {
		return s.retryOrFail(ctx, uow, doc, entity.DocumentChunkError, fmt.Errorf("store chunks: %w", err))
	}

	if previousCount > len(result.Chunks) {
		s.deleteStalePoints(ctx, doc, len(result.Chunks), previousCount)
	}

	s.logStage(doc, "chunk")
	return s.enqueue(ctx, TaskDocumentIndex, doc.Id)
}

// replaceChunks swaps the document's chunks in one transaction, creating any category the
// chunks reference that does not exist yet.
func (s *ingestionService) replaceChunks(ctx context.Context, doc *entity.Document, result *chunker.Result) (err error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = uow.Rollback()
		}
	}()

	descriptions := make(map[string]string, len(result.NewCategories))
	for _, nc := range result.NewCategories {
		descriptions[strings.ToLower(nc.Name)] = nc.Description
	}
	categories := map[string]*entity.Category{}
	usage := map[uuid.UUID]int{}

	now := time.Now()
	chunks := make([]*entity.Chunk, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		chunk := &entity.Chunk{
			Id:          uuid.New(),
			DocumentId:  doc.Id,
			ChunkIndex:  c.Index,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			Content:     c.Content,
			ContentHash: contentHash(c.Content),
			TokenCount:  c.TokenCount,
			Summary:     c.Summary,
			Keywords:    c.Keywords,
			CreatedAt:   now,
		}
		if name := strings.TrimSpace(c.Category); name != "" {
			key := strings.ToLower(name)
			category, ok := categories[key]
			if !ok {
				category, err = s.ensureCategory(ctx, uow, name, descriptions[key])
				if err != nil {
					return err
				}
				categories[key] = category
			}
			chunk.CategoryId = &category.Id
			chunk.CategoryName = category.Name
			usage[category.Id]++
		}
		chunks = append(chunks, chunk)
	}

	for id, n := range usage {
		if err = uow.CategoryRepository().IncrementUsage(ctx, id, n); err != nil {
			return err
		}
	}
	if err = uow.ChunkRepository().DeleteByDocumentId(ctx, doc.Id); err != nil {
		return err
	}
	if err = uow.ChunkRepository().CreateBulk(ctx, chunks); err != nil {
		return err
	}

	if err = uow.DocumentRepository().UpdateFields(ctx, doc.Id, map[string]interface{}{
		"chunk_count": len(chunks),
		"is_indexed":  false,
		"indexed_at":  nil,
	}); err != nil {
		return err
	}
	if err = uow.Commit(); err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)
	doc.IsIndexed = false
	doc.IndexedAt = nil
	return nil
}

// ensureCategory returns the category called name, creating it with AI provenance when absent.
func (s *ingestionService) ensureCategory(ctx context.Context, uow unitofwork.UnitOfWork, name, description string) (*entity.Category, error) {
	existing, err := uow.CategoryRepository().FindOne(ctx, specification.ByName{Name: name})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	category := &entity.Category{
		Id:            uuid.New(),
		Name:          name,
		Description:   description,
		IsAiGenerated: true,
		CreatedAt:     time.Now(),
	}
	if err := uow.CategoryRepository().Create(ctx, category); err != nil {
		return nil, err
	}
	s.logger.Info("INGESTION", "Category created", map[string]interface{}{
		"category": category.Name,
	})
	return category, nil
}

func (s *ingestionService) deleteStalePoints(ctx context.Context, doc *entity.Document, from, to int) {
	collection, err := s.collectionFor(ctx, doc)
	if err != nil {
		return
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, vectorstore.PointID(doc.Id.String(), i))
	}
	if err := s.vectors.Delete(ctx, collection, ids); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		s.logger.Warn("INGESTION", "Failed to delete stale points", map[string]interface{}{
			"document_id": doc.Id.String(),
			"count":       len(ids),
			"error":       err.Error(),
		})
	}
}

func (s *ingestionService) Index(ctx context.Context, documentId uuid.UUID) error {
	unlock, err := s.lockDocument(ctx, documentId)
	if err != nil {
		return err
	}
	defer unlock()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := s.loadDocument(ctx, uow, documentId)
	if err != nil {
		return err
	}
	collection, err := s.collectionFor(ctx, doc)
	if err != nil {
		return err
	}

	chunks, err := uow.ChunkRepository().FindAll(ctx,
		specification.ByDocumentID{DocumentID: doc.Id},
		specification.OrderBy{Field: "chunk_index"},
	)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return queue.Permanent(s.fail(ctx, uow, doc, entity.DocumentFailed, ragerr.New(ragerr.KindIndexing, "index", ErrNothingToIndex)))
	}

	ready := false
	indexed := 0
	now := time.Now()
	for start := 0; start < len(chunks); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make(map[string]string, len(batch))
		for _, c := range batch {
			texts[c.Id.String()] = c.Content
		}
		vectors := s.embedder.EmbedBatch(ctx, texts)

		points := make([]vectorstore.Point, 0, len(batch))
		pointIds := make(map[uuid.UUID]string, len(batch))
		for _, c := range batch {
			vector := vectors[c.Id.String()]
			if len(vector) == 0 {
				continue
			}
			if !ready {
				if err := s.ensureCollection(ctx, collection, len(vector)); err != nil {
					return ragerr.New(ragerr.KindIndexing, "ensure collection", err)
				}
				ready = true
			}
			pointId := vectorstore.PointID(doc.Id.String(), c.ChunkIndex)
			points = append(points, vectorstore.Point{
				ID:      pointId,
				Vector:  vector,
				Payload: chunkPayload(doc, c, now),
			})
			pointIds[c.Id] = pointId
		}
		if len(points) == 0 {
			continue
		}

		if err := s.vectors.Upsert(ctx, collection, points); err != nil {
			s.logger.Error("INGESTION", "Batch upsert failed", map[string]interface{}{
				"document_id": doc.Id.String(),
				"batch_start": start,
				"batch_size":  len(points),
				"error":       err.Error(),
			})
			continue
		}
		if err := uow.ChunkRepository().MarkIndexed(ctx, pointIds, now); err != nil {
			return err
		}
		indexed += len(points)
	}

	if indexed < len(chunks) {
		err := ragerr.New(ragerr.KindIndexing, "index", fmt.Errorf("indexed %d of %d chunks", indexed, len(chunks)))
		return s.retryOrFail(ctx, uow, doc, entity.DocumentFailed, err)
	}

	if err := s.verifyIndexed(ctx, uow, doc.Id, len(chunks)); err != nil {
		return err
	}
	if err := uow.DocumentRepository().UpdateFields(ctx, doc.Id, map[string]interface{}{
		"is_indexed":    true,
		"indexed_at":    now,
		"status":        string(entity.DocumentCompleted),
		"error_message": "",
	}); err != nil {
		return err
	}
	doc.IsIndexed = true
	doc.IndexedAt = &now
	doc.Status = entity.DocumentCompleted
	doc.ErrorMessage = ""
	s.logStage(doc, "index")

	s.emit(ctx, events.New(events.DocumentIndexed, map[string]interface{}{
		"document_id": doc.Id.String(),
		"title":       doc.Title,
		"chunk_count": len(chunks),
		"collection":  collection,
	}))
	return nil
}

// verifyIndexed re-reads the stored chunk set and refuses to mark the document indexed when it
// no longer matches the chunks that were just written to the vector store.
func (s *ingestionService) verifyIndexed(ctx context.Context, uow unitofwork.UnitOfWork, documentId uuid.UUID, want int) error {
	doc, err := s.loadDocument(ctx, uow, documentId)
	if err != nil {
		return err
	}
	total, err := uow.ChunkRepository().Count(ctx, specification.ByDocumentID{DocumentID: documentId})
	if err != nil {
		return err
	}
	pending, err := uow.ChunkRepository().Count(ctx,
		specification.ByDocumentID{DocumentID: documentId},
		specification.NotIndexed{},
	)
	if err != nil {
		return err
	}
	if pending == 0 && int(total) == want && doc.ChunkCount == want {
		return nil
	}
	s.logger.Warn("INGESTION", "Chunks changed during indexing", map[string]interface{}{
		"document_id": documentId.String(),
		"indexed":     want,
		"chunk_count": doc.ChunkCount,
		"stored":      total,
		"not_indexed": pending,
	})
	return ragerr.New(ragerr.KindIndexing, "index", ErrChunksChanged)
}

func (s *ingestionService) ensureCollection(ctx context.Context, collection string, size int) error {
	cfg := vectorstore.CollectionConfig{VectorSize: size, Distance: s.opts.Distance}
	if err := s.vectors.EnsureCollectionExists(ctx, collection, cfg); err != nil {
		return err
	}
	for field, fieldType := range chunkPayloadIndexes {
		if err := s.vectors.CreatePayloadIndex(ctx, collection, field, fieldType); err != nil {
			return err
		}
	}
	return nil
}

func chunkPayload(doc *entity.Document, c *entity.Chunk, now time.Time) map[string]any {
	payload := map[string]any{
		"content":        c.Content,
		"document_id":    doc.Id.String(),
		"document_title": doc.Title,
		"chunk_index":    c.ChunkIndex,
		"category":       c.CategoryName,
		"source_type":    doc.SourceType,
		"content_hash":   c.ContentHash,
		"indexed_at":     now.UTC().Format(time.RFC3339),
	}
	if doc.AgentId != nil {
		payload["agent_id"] = doc.AgentId.String()
	}
	if c.Summary != "" {
		payload["summary"] = c.Summary
	}
	if len(c.Keywords) > 0 {
		payload["keywords"] = c.Keywords
	}
	return payload
}

func contentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *ingestionService) loadDocument(ctx context.Context, uow unitofwork.UnitOfWork, id uuid.UUID) (*entity.Document, error) {
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, queue.Permanent(fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
	}
	return doc, nil
}

func (s *ingestionService) loadAgent(ctx context.Context, uow unitofwork.UnitOfWork, doc *entity.Document) (*entity.Agent, error) {
	if doc.AgentId == nil {
		return nil, nil
	}
	return uow.AgentRepository().FindOne(ctx, specification.ByID{ID: *doc.AgentId})
}

func (s *ingestionService) collectionFor(ctx context.Context, doc *entity.Document) (string, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	agent, err := s.loadAgent(ctx, uow, doc)
	if err != nil {
		return "", err
	}
	if agent != nil && agent.Collection != "" {
		return agent.Collection, nil
	}
	return s.opts.DefaultCollection, nil
}

func (s *ingestionService) transition(ctx context.Context, uow unitofwork.UnitOfWork, doc *entity.Document, status entity.DocumentStatus) error {
	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, status, ""); err != nil {
		return err
	}
	doc.Status = status
	doc.ErrorMessage = ""
	s.logger.Info("INGESTION", "Document stage started", map[string]interface{}{
		"document_id": doc.Id.String(),
		"status":      string(status),
	})
	return nil
}

// fail records cause on the document and stops its pipeline. Definitive stage errors are not
// retried by the queue.
func (s *ingestionService) fail(ctx context.Context, uow unitofwork.UnitOfWork, doc *entity.Document, status entity.DocumentStatus, cause error) error {
	if err := uow.DocumentRepository().UpdateStatus(ctx, doc.Id, status, cause.Error()); err != nil {
		s.logger.Error("INGESTION", "Failed to record document failure", map[string]interface{}{
			"document_id": doc.Id.String(),
			"error":       err.Error(),
		})
	}
	doc.Status = status
	doc.ErrorMessage = cause.Error()

	s.logger.Error("INGESTION", "Document stage failed", map[string]interface{}{
		"document_id": doc.Id.String(),
		"status":      string(status),
		"error":       cause.Error(),
	})
	s.emit(ctx, events.New(events.DocumentFailed, map[string]interface{}{
		"document_id": doc.Id.String(),
		"status":      string(status),
		"error":       cause.Error(),
	}))

	if ragerr.Retryable(cause) {
		return cause
	}
	return queue.Permanent(cause)
}

// retryOrFail keeps the document in its current stage while the queue still has attempts left
// for a transient cause, and records the failure otherwise.
func (s *ingestionService) retryOrFail(ctx context.Context, uow unitofwork.UnitOfWork, doc *entity.Document, status entity.DocumentStatus, cause error) error {
	if !ragerr.Retryable(cause) || queue.LastAttempt(ctx) {
		return s.fail(ctx, uow, doc, status, cause)
	}
	if err := uow.DocumentRepository().UpdateFields(ctx, doc.Id, map[string]interface{}{
		"error_message": cause.Error(),
	}); err != nil {
		return err
	}
	doc.ErrorMessage = cause.Error()
	return cause
}

// lockDocument serializes the stages that rewrite a document's chunks or index state.
func (s *ingestionService) lockDocument(ctx context.Context, id uuid.UUID) (func(), error) {
	unlock, err := s.locker.Acquire(ctx, "document:"+id.String(), s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock document %s: %w", id, err)
	}
	return unlock, nil
}

func (s *ingestionService) logStage(doc *entity.Document, stage string) {
	s.logger.Info("INGESTION", "Document stage finished", map[string]interface{}{
		"document_id": doc.Id.String(),
		"stage":       stage,
		"status":      string(doc.Status),
		"chunk_count": doc.ChunkCount,
	})
}

func (s *ingestionService) enqueue(ctx context.Context, kind string, documentId uuid.UUID) error {
	key := strings.TrimPrefix(kind, "document.") + ":" + documentId.String()
	return s.tasks.Enqueue(ctx, kind, dto.DocumentTaskPayload{DocumentId: documentId},
		queue.WithUniqueKey(key), queue.WithMaxAttempts(s.opts.MaxAttempts))
}

func (s *ingestionService) emit(ctx context.Context, evt events.Event) {
	if s.webhooks == nil {
		return
	}
	if err := s.webhooks.Emit(ctx, evt); err != nil {
		s.logger.Warn("INGESTION", "Failed to emit event", map[string]interface{}{
			"event": evt.EventType(),
			"error": err.Error(),
		})
	}
}
