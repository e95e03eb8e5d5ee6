package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rrbip/batirama-connect-sub002/pkg/embedding"
	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

type collection struct {
	cfg     vectorstore.CollectionConfig
	points  map[string]vectorstore.Point
	indexes map[string]vectorstore.FieldType
}

// Store is an in-process vector store for local runs and tests. Search is a linear cosine scan.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	searches    int
}

var _ vectorstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{collections: map[string]*collection{}}
}

// Searches reports how many Search calls were served.
func (s *Store) Searches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searches
}

func (s *Store) get(name string) (*collection, error) {
	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	return col, nil
}

func (s *Store) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Store) CreateCollection(_ context.Context, name string, cfg vectorstore.CollectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	s.collections[name] = &collection{
		cfg:     cfg,
		points:  map[string]vectorstore.Point{},
		indexes: map[string]vectorstore.FieldType{},
	}
	return nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) EnsureCollectionExists(ctx context.Context, name string, cfg vectorstore.CollectionConfig) error {
	if ok, _ := s.CollectionExists(ctx, name); ok {
		return nil
	}
	return s.CreateCollection(ctx, name, cfg)
}

func (s *Store) CreatePayloadIndex(_ context.Context, name, field string, fieldType vectorstore.FieldType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.get(name)
	if err != nil {
		return err
	}
	col.indexes[field] = fieldType
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.get(name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != col.cfg.VectorSize {
			return fmt.Errorf("point %s: vector size %d, collection expects %d", p.ID, len(p.Vector), col.cfg.VectorSize)
		}
	}
	for _, p := range points {
		col.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.get(name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(col.points, id)
	}
	return nil
}

func (s *Store) DeleteByFilter(_ context.Context, name string, filter *vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.get(name)
	if err != nil {
		return err
	}
	for id, p := range col.points {
		if Matches(filter, p.Payload) {
			delete(col.points, id)
		}
	}
	return nil
}

func (s *Store) Search(_ context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	s.mu.Lock()
	s.searches++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.get(name)
	if err != nil {
		return nil, err
	}

	var out []vectorstore.ScoredPoint
	for _, p := range col.points {
		if !Matches(req.Filter, p.Payload) {
			continue
		}
		score, err := embedding.CosineSimilarity(req.Vector, p.Vector)
		if err != nil {
			return nil, err
		}
		if req.ScoreThreshold > 0 && score < req.ScoreThreshold {
			continue
		}
		out = append(out, vectorstore.ScoredPoint{ID: p.ID, Score: score, Payload: cloneMap(p.Payload)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, name string, filter *vectorstore.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.get(name)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, p := range col.points {
		if Matches(filter, p.Payload) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Scroll(_ context.Context, name string, req vectorstore.ScrollRequest) (*vectorstore.ScrollPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.get(name)
	if err != nil {
		return nil, err
	}

	var from string
	if req.Offset != "" {
		if err := json.Unmarshal([]byte(req.Offset), &from); err != nil {
			return nil, fmt.Errorf("invalid scroll offset: %w", err)
		}
	}
	ids := make([]string, 0, len(col.points))
	for id, p := range col.points {
		if id >= from && Matches(req.Filter, p.Payload) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	page := &vectorstore.ScrollPage{}
	if len(ids) > limit {
		next, _ := json.Marshal(ids[limit])
		page.NextOffset = vectorstore.Offset(next)
		ids = ids[:limit]
	}
	for _, id := range ids {
		p := clonePoint(col.points[id])
		if !req.WithVectors {
			p.Vector = nil
		}
		page.Points = append(page.Points, p)
	}
	return page, nil
}

func (s *Store) GetCollectionInfo(_ context.Context, name string) (*vectorstore.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return &vectorstore.CollectionInfo{
		Name:        name,
		Status:      "green",
		PointsCount: int64(len(col.points)),
		VectorSize:  col.cfg.VectorSize,
		Distance:    col.cfg.Distance,
	}, nil
}

func (s *Store) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) IsHealthy(context.Context) bool { return true }

// Matches evaluates a filter against a payload with Qdrant semantics.
func Matches(f *vectorstore.Filter, payload map[string]any) bool {
	if f.IsEmpty() {
		return true
	}
	for _, c := range f.Must {
		if !conditionMatches(c, payload) {
			return false
		}
	}
	if len(f.Should) > 0 {
		matched := false
		for _, c := range f.Should {
			if conditionMatches(c, payload) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, c := range f.MustNot {
		if conditionMatches(c, payload) {
			return false
		}
	}
	return true
}

func conditionMatches(c vectorstore.Condition, payload map[string]any) bool {
	v, ok := payload[c.Key]
	if !ok {
		return false
	}
	candidates := c.Any
	if candidates == nil {
		candidates = []any{c.Value}
	}
	values := []any{v}
	switch list := v.(type) {
	case []any:
		values = list
	case []string:
		values = make([]any, len(list))
		for i, item := range list {
			values[i] = item
		}
	}
	for _, want := range candidates {
		for _, have := range values {
			if equalValues(have, want) {
				return true
			}
		}
	}
	return false
}

// equalValues compares through JSON so 3 and 3.0 match like they do in a real store.
func equalValues(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ja) == string(jb)
}

func clonePoint(p vectorstore.Point) vectorstore.Point {
	out := vectorstore.Point{ID: p.ID, Payload: cloneMap(p.Payload)}
	if p.Vector != nil {
		out.Vector = append([]float32(nil), p.Vector...)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
