package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/contract"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/queue"
)

// memDB is an in-memory stand-in for the relational store. It understands the specifications
// the services use and ignores ordering and paging.
type memDB struct {
	mu         sync.Mutex
	documents  map[uuid.UUID]*entity.Document
	chunks     map[uuid.UUID]*entity.Chunk
	categories map[uuid.UUID]*entity.Category
	agents     map[uuid.UUID]*entity.Agent
	targets    map[uuid.UUID]*entity.WebhookTarget
	deliveries map[uuid.UUID]*entity.WebhookDelivery
}

func newMemDB() *memDB {
	return &memDB{
		documents:  map[uuid.UUID]*entity.Document{},
		chunks:     map[uuid.UUID]*entity.Chunk{},
		categories: map[uuid.UUID]*entity.Category{},
		agents:     map[uuid.UUID]*entity.Agent{},
		targets:    map[uuid.UUID]*entity.WebhookTarget{},
		deliveries: map[uuid.UUID]*entity.WebhookDelivery{},
	}
}

func (db *memDB) NewUnitOfWork(context.Context) unitofwork.UnitOfWork {
	return &memUoW{db: db}
}

type memUoW struct {
	db *memDB
}

func (u *memUoW) Begin(context.Context) error { return nil }
func (u *memUoW) Commit() error               { return nil }
func (u *memUoW) Rollback() error             { return nil }

func (u *memUoW) DocumentRepository() contract.DocumentRepository { return &memDocuments{u.db} }
func (u *memUoW) ChunkRepository() contract.ChunkRepository       { return &memChunks{u.db} }
func (u *memUoW) CategoryRepository() contract.CategoryRepository { return &memCategories{u.db} }
func (u *memUoW) AgentRepository() contract.AgentRepository       { return &memAgents{u.db} }
func (u *memUoW) WebhookTargetRepository() contract.WebhookTargetRepository {
	return &memTargets{u.db}
}
func (u *memUoW) WebhookDeliveryRepository() contract.WebhookDeliveryRepository {
	return &memDeliveries{u.db}
}

func specID(specs []specification.Specification) (uuid.UUID, bool) {
	for _, s := range specs {
		if byID, ok := s.(specification.ByID); ok {
			return byID.ID, true
		}
	}
	return uuid.Nil, false
}

type memDocuments struct{ db *memDB }

func (r *memDocuments) Create(_ context.Context, doc *entity.Document) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *doc
	r.db.documents[doc.Id] = &cp
	return nil
}

func (r *memDocuments) Update(ctx context.Context, doc *entity.Document) error {
	return r.Create(ctx, doc)
}

func (r *memDocuments) UpdateStatus(_ context.Context, id uuid.UUID, status entity.DocumentStatus, errorMessage string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if doc, ok := r.db.documents[id]; ok {
		doc.Status = status
		doc.ErrorMessage = errorMessage
	}
	return nil
}

func (r *memDocuments) UpdateFields(_ context.Context, id uuid.UUID, fields map[string]interface{}) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	doc, ok := r.db.documents[id]
	if !ok {
		return nil
	}
	for column, value := range fields {
		switch column {
		case "status":
			doc.Status = entity.DocumentStatus(value.(string))
		case "error_message":
			doc.ErrorMessage = value.(string)
		case "extracted_text":
			doc.ExtractedText = value.(string)
		case "chunk_count":
			doc.ChunkCount = value.(int)
		case "is_indexed":
			doc.IsIndexed = value.(bool)
		case "indexed_at":
			if at, ok := value.(*time.Time); ok {
				doc.IndexedAt = at
			} else if at, ok := value.(time.Time); ok {
				doc.IndexedAt = &at
			} else {
				doc.IndexedAt = nil
			}
		default:
			panic("memDocuments: unknown column " + column)
		}
	}
	return nil
}

func (r *memDocuments) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.documents, id)
	return nil
}

func (r *memDocuments) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Document, error) {
	docs, _ := r.FindAll(ctx, specs...)
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (r *memDocuments) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Document, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.Document
	for _, doc := range r.db.documents {
		if id, ok := specID(specs); ok && doc.Id != id {
			continue
		}
		keep := true
		for _, s := range specs {
			if st, ok := s.(specification.ByStatus); ok && doc.Status != st.Status {
				keep = false
			}
		}
		if keep {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memChunks struct{ db *memDB }

func (r *memChunks) CreateBulk(_ context.Context, chunks []*entity.Chunk) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range chunks {
		cp := *c
		r.db.chunks[c.Id] = &cp
	}
	return nil
}

func (r *memChunks) DeleteByDocumentId(_ context.Context, documentId uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, c := range r.db.chunks {
		if c.DocumentId == documentId {
			delete(r.db.chunks, id)
		}
	}
	return nil
}

func (r *memChunks) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Chunk, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.Chunk
	for _, c := range r.db.chunks {
		keep := true
		for _, s := range specs {
			switch s := s.(type) {
			case specification.ByDocumentID:
				keep = keep && c.DocumentId == s.DocumentID
			case specification.NotIndexed:
				keep = keep && !c.IsIndexed
			}
		}
		if keep {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *memChunks) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	chunks, err := r.FindAll(ctx, specs...)
	return int64(len(chunks)), err
}

func (r *memChunks) MarkIndexed(_ context.Context, pointIds map[uuid.UUID]string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, pointId := range pointIds {
		if c, ok := r.db.chunks[id]; ok {
			p := pointId
			c.IsIndexed = true
			c.PointId = &p
			c.IndexedAt = &at
		}
	}
	return nil
}

func (r *memChunks) ClearIndexed(_ context.Context, documentId uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.chunks {
		if c.DocumentId == documentId {
			c.IsIndexed = false
			c.PointId = nil
			c.IndexedAt = nil
		}
	}
	return nil
}

type memCategories struct{ db *memDB }

func (r *memCategories) Create(_ context.Context, category *entity.Category) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *category
	r.db.categories[category.Id] = &cp
	return nil
}

func (r *memCategories) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Category, error) {
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *memCategories) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.Category, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entity.Category
	for _, c := range r.db.categories {
		keep := true
		for _, s := range specs {
			if byName, ok := s.(specification.ByName); ok {
				keep = keep && strings.EqualFold(c.Name, byName.Name)
			}
		}
		if keep {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memCategories) IncrementUsage(_ context.Context, id uuid.UUID, delta int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c, ok := r.db.categories[id]; ok {
		c.UsageCount += delta
	}
	return nil
}

func (r *memCategories) FindUsed(_ context.Context, agentId *uuid.UUID) ([]*entity.Category, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []*entity.Category
	for _, c := range r.db.chunks {
		if c.CategoryId == nil || seen[*c.CategoryId] {
			continue
		}
		if agentId != nil {
			doc := r.db.documents[c.DocumentId]
			if doc == nil || doc.AgentId == nil || *doc.AgentId != *agentId {
				continue
			}
		}
		seen[*c.CategoryId] = true
		cp := *r.db.categories[*c.CategoryId]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memAgents struct{ db *memDB }

func (r *memAgents) Create(_ context.Context, agent *entity.Agent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *agent
	r.db.agents[agent.Id] = &cp
	return nil
}

func (r *memAgents) Update(ctx context.Context, agent *entity.Agent) error {
	return r.Create(ctx, agent)
}

func (r *memAgents) FindOne(_ context.Context, specs ...specification.Specification) (*entity.Agent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, _ := specID(specs)
	agent, ok := r.db.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *agent
	return &cp, nil
}

type memTargets struct{ db *memDB }

func (r *memTargets) Create(_ context.Context, target *entity.WebhookTarget) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *target
	r.db.targets[target.Id] = &cp
	return nil
}

func (r *memTargets) FindOne(_ context.Context, specs ...specification.Specification) (*entity.WebhookTarget, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, _ := specID(specs)
	t, ok := r.db.targets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTargets) FindAll(_ context.Context, specs ...specification.Specification) ([]*entity.WebhookTarget, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	activeOnly := false
	for _, s := range specs {
		if _, ok := s.(specification.ActiveOnly); ok {
			activeOnly = true
		}
	}
	var out []*entity.WebhookTarget
	for _, t := range r.db.targets {
		if activeOnly && !t.IsActive {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memTargets) IncrementCounter(_ context.Context, id uuid.UUID, success bool, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.targets[id]
	if !ok {
		return nil
	}
	if success {
		t.SuccessCount++
	} else {
		t.FailureCount++
	}
	t.LastTriggeredAt = &at
	return nil
}

type memDeliveries struct{ db *memDB }

func (r *memDeliveries) Create(_ context.Context, delivery *entity.WebhookDelivery) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *delivery
	r.db.deliveries[delivery.Id] = &cp
	return nil
}

func (r *memDeliveries) Update(ctx context.Context, delivery *entity.WebhookDelivery) error {
	return r.Create(ctx, delivery)
}

func (r *memDeliveries) FindOne(_ context.Context, specs ...specification.Specification) (*entity.WebhookDelivery, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	id, _ := specID(specs)
	d, ok := r.db.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// recordingQueue keeps enqueued tasks for inspection and runs them on demand.
type recordingQueue struct {
	mu       sync.Mutex
	tasks    []queue.Task
	delays   []time.Duration
	history  []time.Duration // every delay ever requested
	handlers map[string]queue.Handler
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{handlers: map[string]queue.Handler{}}
}

func (q *recordingQueue) Enqueue(_ context.Context, kind string, payload any, opts ...queue.Option) error {
	o := queue.ApplyOptions(opts...)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, queue.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     body,
		Attempt:     1,
		MaxAttempts: o.MaxAttempts,
		UniqueKey:   o.UniqueKey,
	})
	q.delays = append(q.delays, o.Delay)
	q.history = append(q.history, o.Delay)
	return nil
}

func (q *recordingQueue) Handle(kind string, h queue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func (q *recordingQueue) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) Close() error { return nil }

// reset forgets pending tasks without running them.
func (q *recordingQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
	q.delays = nil
}

func (q *recordingQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	kinds := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		kinds[i] = t.Kind
	}
	return kinds
}

// drain runs queued tasks through the registered handlers until none are left.
func (q *recordingQueue) drain(ctx context.Context) []error {
	var errs []error
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return errs
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.delays = q.delays[1:]
		h := q.handlers[task.Kind]
		q.mu.Unlock()
		if h == nil {
			continue
		}
		if err := h(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
}

// recordingWebhooks collects emitted events.
type recordingWebhooks struct {
	mu     sync.Mutex
	events []string
}

func (w *recordingWebhooks) Emit(_ context.Context, evt events.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, evt.EventType())
	return nil
}

func (w *recordingWebhooks) Deliver(context.Context, string) error { return nil }

func (w *recordingWebhooks) emitted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}
