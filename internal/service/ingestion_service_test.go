package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
	"github.com/rrbip/batirama-connect-sub002/pkg/category"
	"github.com/rrbip/batirama-connect-sub002/pkg/chunker"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/extractor"
	"github.com/rrbip/batirama-connect-sub002/pkg/lock"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
	"github.com/rrbip/batirama-connect-sub002/pkg/ragerr"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore/memstore"
)

type fakeExtractor struct {
	texts map[string]string
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, ref extractor.FileRef) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.texts[ref.Path]
	if !ok {
		return "", ragerr.New(ragerr.KindExtraction, "extract", extractor.ErrUnsupportedFormat)
	}
	return text, nil
}

type fakeChunker struct {
	result *chunker.Result
}

func (f *fakeChunker) Chunk(context.Context, string, chunker.Settings) (*chunker.Result, error) {
	return f.result, nil
}

// fakeEmbedder returns a fixed vector per text, or nothing for texts containing "poison".
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts map[string]string) map[string][]float32 {
	out := make(map[string][]float32, len(texts))
	for key, text := range texts {
		if strings.Contains(text, "poison") {
			out[key] = []float32{}
			continue
		}
		out[key] = []float32{1, float32(len(text) % 7), 0.5}
	}
	return out
}

// hookEmbedder runs hook once, before the first batch is embedded.
type hookEmbedder struct {
	fakeEmbedder
	once sync.Once
	hook func()
}

func (h *hookEmbedder) EmbedBatch(ctx context.Context, texts map[string]string) map[string][]float32 {
	h.once.Do(func() {
		if h.hook != nil {
			h.hook()
		}
	})
	return h.fakeEmbedder.EmbedBatch(ctx, texts)
}

// flakyUpsertStore fails the upsert calls listed in failOn (1-based).
type flakyUpsertStore struct {
	vectorstore.Store
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (s *flakyUpsertStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	s.mu.Lock()
	s.calls++
	fail := s.failOn[s.calls]
	s.mu.Unlock()
	if fail {
		return errors.New("qdrant: 503 service unavailable")
	}
	return s.Store.Upsert(ctx, collection, points)
}

// unsafeLocker grants every lease at once.
type unsafeLocker struct{}

func (unsafeLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type fixtureConfig struct {
	embedder    BatchEmbedder
	wrapVectors func(vectorstore.Store) vectorstore.Store
	locker      lock.Locker
	maxAttempts int
}

type fixtureOption func(*fixtureConfig)

func withEmbedder(e BatchEmbedder) fixtureOption {
	return func(c *fixtureConfig) { c.embedder = e }
}

func withVectorStore(wrap func(vectorstore.Store) vectorstore.Store) fixtureOption {
	return func(c *fixtureConfig) { c.wrapVectors = wrap }
}

func withLocker(l lock.Locker) fixtureOption {
	return func(c *fixtureConfig) { c.locker = l }
}

func withMaxAttempts(n int) fixtureOption {
	return func(c *fixtureConfig) { c.maxAttempts = n }
}

type ingestionFixture struct {
	db       *memDB
	tasks    *recordingQueue
	vectors  *memstore.Store
	webhooks *recordingWebhooks
	files    *fakeExtractor
	svc      IIngestionService
}

func newIngestionFixture(t *testing.T, textChunker TextChunker, opts ...fixtureOption) *ingestionFixture {
	t.Helper()
	cfg := fixtureConfig{embedder: fakeEmbedder{}, locker: lock.NewLocalLocker()}
	for _, opt := range opts {
		opt(&cfg)
	}
	f := &ingestionFixture{
		db:       newMemDB(),
		tasks:    newRecordingQueue(),
		vectors:  memstore.New(),
		webhooks: &recordingWebhooks{},
		files:    &fakeExtractor{texts: map[string]string{}},
	}
	var vectors vectorstore.Store = f.vectors
	if cfg.wrapVectors != nil {
		vectors = cfg.wrapVectors(f.vectors)
	}
	log := logger.NewNopLogger()
	if textChunker == nil {
		textChunker = chunker.NewChunker(nil, log)
	}
	f.svc = NewIngestionService(f.db, f.tasks, f.files, textChunker, cfg.embedder, vectors, cfg.locker, f.webhooks, IngestionOptions{
		ChunkSettings: chunker.Settings{
			Strategy:      chunker.StrategyRecursive,
			MaxTokens:     20,
			OverlapTokens: 0,
		},
		DefaultCollection: "documents",
		BatchSize:         2,
		MaxAttempts:       cfg.maxAttempts,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, NewConsumerService(f.tasks, f.svc, f.webhooks, time.Minute, log).Consume(ctx))
	return f
}

func (f *ingestionFixture) addDocument(path, text string) *entity.Document {
	doc := &entity.Document{
		Id:         uuid.New(),
		Title:      "Guide " + path,
		FilePath:   path,
		FileType:   "txt",
		SourceType: "upload",
		Status:     entity.DocumentPending,
		CreatedAt:  time.Now(),
	}
	f.db.documents[doc.Id] = doc
	if text != "" {
		f.files.texts[path] = text
	}
	return doc
}

func (f *ingestionFixture) pointCount(t *testing.T, doc *entity.Document) int64 {
	t.Helper()
	filter := (&vectorstore.Filter{}).And(vectorstore.MatchValue("document_id", doc.Id.String()))
	n, err := f.vectors.Count(context.Background(), "documents", filter)
	require.NoError(t, err)
	return n
}

const guideText = `Roof insulation keeps heat inside during winter months.

Mineral wool is laid between the rafters before the vapour barrier.

Tiles are fixed on battens nailed across the counter battens.

Gutters must slope towards the downpipes to drain rainwater.`

func TestIngestion_FullPipeline(t *testing.T) {
	f := newIngestionFixture(t, nil)
	doc := f.addDocument("guide.txt", guideText)
	ctx := context.Background()

	resp, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, []string{TaskDocumentExtract}, f.tasks.kinds())

	require.Empty(t, f.tasks.drain(ctx))

	stored := f.db.documents[doc.Id]
	assert.Equal(t, entity.DocumentCompleted, stored.Status)
	assert.True(t, stored.IsIndexed)
	assert.NotNil(t, stored.IndexedAt)
	assert.Greater(t, stored.ChunkCount, 1)
	assert.Equal(t, int64(stored.ChunkCount), f.pointCount(t, doc))

	chunks, err := (&memChunks{f.db}).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, stored.ChunkCount)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.True(t, c.IsIndexed)
		require.NotNil(t, c.PointId)
		assert.Equal(t, vectorstore.PointID(doc.Id.String(), i), *c.PointId)
		assert.Len(t, c.ContentHash, 64)
	}

	assert.Equal(t, []string{events.DocumentIndexed}, f.webhooks.emitted())
}

func TestIngestion_ExtractionFailureStopsPipeline(t *testing.T) {
	f := newIngestionFixture(t, nil)
	doc := f.addDocument("scan.xyz", "")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)

	errs := f.tasks.drain(ctx)
	require.Len(t, errs, 1)
	assert.True(t, queue.IsPermanent(errs[0]))
	assert.True(t, errors.Is(errs[0], ragerr.ErrExtraction))

	stored := f.db.documents[doc.Id]
	assert.Equal(t, entity.DocumentFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "unsupported format")
	assert.Empty(t, f.tasks.kinds())
	assert.Equal(t, []string{events.DocumentFailed}, f.webhooks.emitted())
}

func TestIngestion_ReindexWithFewerChunksDropsStalePoints(t *testing.T) {
	f := newIngestionFixture(t, nil)
	doc := f.addDocument("guide.txt", guideText)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	require.Empty(t, f.tasks.drain(ctx))
	before := f.pointCount(t, doc)
	require.Greater(t, before, int64(1))

	f.db.documents[doc.Id].ExtractedText = "Roof insulation keeps heat inside."
	resp, err := f.svc.Reindex(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, "chunking", resp.Status)
	require.Empty(t, f.tasks.drain(ctx))

	assert.Equal(t, 1, f.db.documents[doc.Id].ChunkCount)
	assert.Equal(t, int64(1), f.pointCount(t, doc))
}

func TestIngestion_Deindex(t *testing.T) {
	f := newIngestionFixture(t, nil)
	doc := f.addDocument("guide.txt", guideText)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	require.Empty(t, f.tasks.drain(ctx))

	resp, err := f.svc.Deindex(ctx, doc.Id)
	require.NoError(t, err)
	assert.False(t, resp.IsIndexed)

	assert.Zero(t, f.pointCount(t, doc))
	assert.False(t, f.db.documents[doc.Id].IsIndexed)
	chunks, err := (&memChunks{f.db}).FindAll(ctx)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.False(t, c.IsIndexed)
		assert.Nil(t, c.PointId)
	}
}

func TestIngestion_LLMCategoriesAreCreatedAndCounted(t *testing.T) {
	fc := &fakeChunker{result: &chunker.Result{
		Chunks: []chunker.Chunk{
			{Index: 0, Content: "Tiles overlap by a third.", Category: "Toiture"},
			{Index: 1, Content: "Battens are nailed every 30cm.", Category: "toiture"},
			{Index: 2, Content: "Wool goes between rafters.", Category: "Isolation"},
		},
		NewCategories: []chunker.NewCategory{{Name: "Toiture", Description: "Roofing work"}},
	}}
	f := newIngestionFixture(t, fc)
	existing := &entity.Category{Id: uuid.New(), Name: "Isolation", UsageCount: 4}
	f.db.categories[existing.Id] = existing

	doc := f.addDocument("roof.txt", "unused by the fake chunker")
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	require.Empty(t, f.tasks.drain(ctx))

	cats, err := (&memCategories{f.db}).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Isolation", cats[0].Name)
	assert.Equal(t, 5, cats[0].UsageCount)
	assert.False(t, cats[0].IsAiGenerated)
	assert.Equal(t, "Toiture", cats[1].Name)
	assert.Equal(t, "Roofing work", cats[1].Description)
	assert.Equal(t, 2, cats[1].UsageCount)
	assert.True(t, cats[1].IsAiGenerated)

	used, err := NewCategorySource(f.db).UsedCategories(ctx, category.Scope{})
	require.NoError(t, err)
	assert.Len(t, used, 2)
}

func TestIngestion_PartialEmbeddingKeepsDocumentIncomplete(t *testing.T) {
	f := newIngestionFixture(t, nil)
	doc := f.addDocument("guide.txt", guideText+"\n\nThis paragraph is poison for the embedder.")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	errs := f.tasks.drain(ctx)
	require.Len(t, errs, 1)
	assert.False(t, queue.IsPermanent(errs[0]))
	assert.True(t, errors.Is(errs[0], ragerr.ErrIndexing))

	stored := f.db.documents[doc.Id]
	assert.False(t, stored.IsIndexed)
	assert.NotEqual(t, entity.DocumentCompleted, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "chunks")
	assert.Equal(t, int64(stored.ChunkCount-1), f.pointCount(t, doc))
}

func TestIngestion_SubmitPending(t *testing.T) {
	f := newIngestionFixture(t, nil)
	f.addDocument("a.txt", "alpha")
	f.addDocument("b.txt", "beta")
	done := f.addDocument("c.txt", "gamma")
	f.db.documents[done.Id].Status = entity.DocumentCompleted

	resp, err := f.svc.SubmitPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Submitted)
	assert.Equal(t, []string{TaskDocumentExtract, TaskDocumentExtract}, f.tasks.kinds())
}

func TestIngestion_UnknownDocument(t *testing.T) {
	f := newIngestionFixture(t, nil)
	_, err := f.svc.Submit(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	err = f.svc.Index(context.Background(), uuid.New())
	assert.True(t, queue.IsPermanent(err))
}

func (f *ingestionFixture) document(id uuid.UUID) entity.Document {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return *f.db.documents[id]
}

func (f *ingestionFixture) setExtractedText(id uuid.UUID, text string) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.documents[id].ExtractedText = text
}

func (f *ingestionFixture) chunksOf(t *testing.T, id uuid.UUID) []*entity.Chunk {
	t.Helper()
	chunks, err := (&memChunks{f.db}).FindAll(context.Background(), specification.ByDocumentID{DocumentID: id})
	require.NoError(t, err)
	return chunks
}

func TestIngestion_RechunkWaitsForRunningIndex(t *testing.T) {
	embedder := &hookEmbedder{}
	f := newIngestionFixture(t, nil, withEmbedder(embedder))
	doc := f.addDocument("guide.txt", guideText)
	ctx := context.Background()

	// Extract and chunk without indexing, then index with a re-chunk racing it.
	require.NoError(t, f.svc.Extract(ctx, doc.Id))
	require.NoError(t, f.svc.Chunk(ctx, doc.Id))
	require.Greater(t, f.document(doc.Id).ChunkCount, 1)
	f.tasks.reset()

	var rechunked atomic.Bool
	done := make(chan error, 1)
	embedder.hook = func() {
		f.setExtractedText(doc.Id, "Roof insulation keeps heat inside.")
		go func() {
			err := f.svc.Chunk(ctx, doc.Id)
			rechunked.Store(true)
			done <- err
		}()
		time.Sleep(30 * time.Millisecond)
		assert.False(t, rechunked.Load(), "re-chunk must wait for the running index")
	}

	require.NoError(t, f.svc.Index(ctx, doc.Id))
	require.NoError(t, <-done)

	stored := f.document(doc.Id)
	assert.False(t, stored.IsIndexed)
	assert.Equal(t, 1, stored.ChunkCount)
	assert.Len(t, f.chunksOf(t, doc.Id), 1)

	require.Empty(t, f.tasks.drain(ctx))
	stored = f.document(doc.Id)
	assert.True(t, stored.IsIndexed)
	assert.Equal(t, entity.DocumentCompleted, stored.Status)
	for _, c := range f.chunksOf(t, doc.Id) {
		assert.NotNil(t, c.PointId)
	}
}

func TestIngestion_IndexRefusesChunksReplacedMidRun(t *testing.T) {
	embedder := &hookEmbedder{}
	f := newIngestionFixture(t, nil, withEmbedder(embedder), withLocker(unsafeLocker{}))
	doc := f.addDocument("guide.txt", guideText)
	ctx := context.Background()

	require.NoError(t, f.svc.Extract(ctx, doc.Id))
	require.NoError(t, f.svc.Chunk(ctx, doc.Id))
	require.Greater(t, f.document(doc.Id).ChunkCount, 1)
	f.tasks.reset()

	embedder.hook = func() {
		f.setExtractedText(doc.Id, "Roof insulation keeps heat inside.")
		require.NoError(t, f.svc.Chunk(ctx, doc.Id))
	}

	err := f.svc.Index(ctx, doc.Id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunksChanged)
	assert.False(t, queue.IsPermanent(err))

	stored := f.document(doc.Id)
	assert.False(t, stored.IsIndexed)
	assert.NotEqual(t, entity.DocumentCompleted, stored.Status)
	assert.Equal(t, 1, stored.ChunkCount, "chunk count from the re-chunk survives")

	// The re-chunk queued its own index run, which completes the document.
	require.Empty(t, f.tasks.drain(ctx))
	stored = f.document(doc.Id)
	assert.True(t, stored.IsIndexed)
	chunks := f.chunksOf(t, doc.Id)
	require.Len(t, chunks, 1)
	assert.NotNil(t, chunks[0].PointId)
}

func TestIngestion_FailedUpsertBatchLeavesChunksUnindexed(t *testing.T) {
	var flaky *flakyUpsertStore
	f := newIngestionFixture(t, nil, withVectorStore(func(inner vectorstore.Store) vectorstore.Store {
		flaky = &flakyUpsertStore{Store: inner, failOn: map[int]bool{2: true}}
		return flaky
	}))
	doc := f.addDocument("guide.txt", guideText)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	errs := f.tasks.drain(ctx)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ragerr.ErrIndexing))
	assert.False(t, queue.IsPermanent(errs[0]))

	chunks := f.chunksOf(t, doc.Id)
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		if i/2 == 1 {
			assert.Nil(t, c.PointId, "chunk %d belongs to the failed batch", i)
			assert.False(t, c.IsIndexed)
			continue
		}
		require.NotNil(t, c.PointId, "chunk %d", i)
		assert.True(t, c.IsIndexed)
	}

	stored := f.document(doc.Id)
	assert.False(t, stored.IsIndexed)
	assert.Equal(t, entity.DocumentChunking, stored.Status, "attempts remain")
	assert.Contains(t, stored.ErrorMessage, "indexed 2 of 4 chunks")
	assert.Equal(t, int64(2), f.pointCount(t, doc))
	assert.NotContains(t, f.webhooks.emitted(), events.DocumentFailed)
}

func TestIngestion_PartialIndexOnLastAttemptFailsDocument(t *testing.T) {
	f := newIngestionFixture(t, nil, withMaxAttempts(1))
	doc := f.addDocument("guide.txt", guideText+"\n\nThis paragraph is poison for the embedder.")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	errs := f.tasks.drain(ctx)
	require.Len(t, errs, 1)

	stored := f.document(doc.Id)
	assert.False(t, stored.IsIndexed)
	assert.Equal(t, entity.DocumentFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "chunks")
	assert.Equal(t, []string{events.DocumentFailed}, f.webhooks.emitted())
}

func TestIngestion_TransientExtractionErrorIsRetried(t *testing.T) {
	f := newIngestionFixture(t, nil)
	doc := f.addDocument("guide.txt", guideText)
	f.files.err = errors.New("read guide.txt: connection reset by peer")
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, doc.Id)
	require.NoError(t, err)
	errs := f.tasks.drain(ctx)
	require.Len(t, errs, 1)
	assert.False(t, queue.IsPermanent(errs[0]))

	stored := f.document(doc.Id)
	assert.Equal(t, entity.DocumentProcessing, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "connection reset")
	assert.Empty(t, f.webhooks.emitted())

	// Last attempt records the failure.
	err = f.svc.Extract(queue.WithTask(ctx, queue.Task{Attempt: 3, MaxAttempts: 3}), doc.Id)
	require.Error(t, err)
	assert.Equal(t, entity.DocumentFailed, f.document(doc.Id).Status)
	assert.Equal(t, []string{events.DocumentFailed}, f.webhooks.emitted())
}
