package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrCollectionNotFound  = errors.New("vectorstore: collection not found")
	ErrUnsupportedDistance = errors.New("vectorstore: unsupported distance")
)

type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

type FieldType string

const (
	FieldKeyword  FieldType = "keyword"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDatetime FieldType = "datetime"
	FieldText     FieldType = "text"
)

var validate = validator.New()

type CollectionConfig struct {
	VectorSize int      `validate:"gt=0"`
	Distance   Distance `validate:"required,oneof=Cosine Dot Euclid"`
	OnDisk     bool
}

func (c CollectionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid collection config: %w", err)
	}
	return nil
}

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type SearchRequest struct {
	Vector         []float32
	Limit          int
	Filter         *Filter
	ScoreThreshold float64
}

// Offset is an opaque scroll cursor. The empty Offset starts a scroll and ends it when returned.
type Offset string

type ScrollRequest struct {
	Limit       int
	Offset      Offset
	Filter      *Filter
	WithVectors bool
}

type ScrollPage struct {
	Points     []Point
	NextOffset Offset
}

type CollectionInfo struct {
	Name        string
	Status      string
	PointsCount int64
	VectorSize  int
	Distance    Distance
}

// Store is a named-collection vector database. Writes are idempotent: upsert is keyed by point
// id and deleting an absent id is a no-op.
type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, cfg CollectionConfig) error
	DeleteCollection(ctx context.Context, name string) error
	EnsureCollectionExists(ctx context.Context, name string, cfg CollectionConfig) error
	CreatePayloadIndex(ctx context.Context, collection, field string, fieldType FieldType) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error
	Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error)
	Count(ctx context.Context, collection string, filter *Filter) (int64, error)
	Scroll(ctx context.Context, collection string, req ScrollRequest) (*ScrollPage, error)
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	ListCollections(ctx context.Context) ([]string, error)
	IsHealthy(ctx context.Context) bool
}

// ScrollAll follows scroll cursors until the store reports no further offset.
func ScrollAll(ctx context.Context, store Store, collection string, filter *Filter, pageSize int) ([]Point, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []Point
	var offset Offset
	seen := map[Offset]bool{}
	for {
		page, err := store.Scroll(ctx, collection, ScrollRequest{Limit: pageSize, Offset: offset, Filter: filter})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Points...)
		if page.NextOffset == "" {
			return all, nil
		}
		if seen[page.NextOffset] {
			return nil, fmt.Errorf("scroll %s: cursor %q repeated", collection, page.NextOffset)
		}
		seen[page.NextOffset] = true
		offset = page.NextOffset
	}
}
