package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

// Collection registers a named vector space.
type Collection struct {
	Name       string    `gorm:"type:varchar(128);primaryKey"`
	VectorSize int       `gorm:"not null"`
	Distance   string    `gorm:"type:varchar(16);not null"`
	OnDisk     bool      `gorm:"default:false"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (Collection) TableName() string {
	return "vector_collections"
}

// PointRow stores one point. The vector column has no fixed dimension so collections of
// different sizes share the table.
type PointRow struct {
	Collection string          `gorm:"type:varchar(128);primaryKey"`
	Id         string          `gorm:"type:varchar(64);primaryKey"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	Payload    datatypes.JSON  `gorm:"type:jsonb"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime"`
}

func (PointRow) TableName() string {
	return "vector_points"
}

// Models lists the tables this backend needs migrated.
func Models() []interface{} {
	return []interface{}{&Collection{}, &PointRow{}}
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type Store struct {
	db *gorm.DB
}

var _ vectorstore.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) collection(ctx context.Context, name string) (*Collection, error) {
	var col Collection
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&col).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &col, nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Collection{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

func (s *Store) CreateCollection(ctx context.Context, name string, cfg vectorstore.CollectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Distance == vectorstore.DistanceEuclid {
		return fmt.Errorf("%w: %s", vectorstore.ErrUnsupportedDistance, cfg.Distance)
	}
	return s.db.WithContext(ctx).Create(&Collection{
		Name:       name,
		VectorSize: cfg.VectorSize,
		Distance:   string(cfg.Distance),
		OnDisk:     cfg.OnDisk,
	}).Error
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", name).Delete(&PointRow{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&Collection{}).Error
	})
}

func (s *Store) EnsureCollectionExists(ctx context.Context, name string, cfg vectorstore.CollectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&Collection{
		Name:       name,
		VectorSize: cfg.VectorSize,
		Distance:   string(cfg.Distance),
		OnDisk:     cfg.OnDisk,
	}).Error
}

// CreatePayloadIndex adds a partial expression index on payload->>field for the collection.
func (s *Store) CreatePayloadIndex(ctx context.Context, collection, field string, fieldType vectorstore.FieldType) error {
	if !fieldNamePattern.MatchString(field) || !fieldNamePattern.MatchString(collection) {
		return fmt.Errorf("invalid index target %s.%s", collection, field)
	}
	indexName := fmt.Sprintf("idx_vp_%s_%s", collection, field)
	if len(indexName) > 63 {
		indexName = indexName[:63]
	}
	expr := fmt.Sprintf("(payload->>'%s')", field)
	if fieldType == vectorstore.FieldText {
		expr = fmt.Sprintf("to_tsvector('simple', payload->>'%s')", field)
		return s.db.WithContext(ctx).Exec(fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON vector_points USING gin (%s) WHERE collection = '%s'",
			indexName, expr, collection)).Error
	}
	return s.db.WithContext(ctx).Exec(fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON vector_points (%s) WHERE collection = '%s'",
		indexName, expr, collection)).Error
}

func (s *Store) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]*PointRow, len(points))
	for i, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", p.ID, err)
		}
		rows[i] = &PointRow{
			Collection: collection,
			Id:         p.ID,
			Embedding:  pgvector.NewVector(p.Vector),
			Payload:    datatypes.JSON(payload),
		}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "payload", "updated_at"}),
		}).
		Create(&rows).Error
}

func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("collection = ? AND id IN ?", collection, ids).Delete(&PointRow{}).Error
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter *vectorstore.Filter) error {
	if filter.IsEmpty() {
		return errors.New("pgvector: refusing to delete with an empty filter")
	}
	query, err := applyFilter(s.db.WithContext(ctx).Where("collection = ?", collection), filter)
	if err != nil {
		return err
	}
	return query.Delete(&PointRow{}).Error
}

type scoredRow struct {
	Id      string
	Payload datatypes.JSON
	Score   float64
}

func (s *Store) Search(ctx context.Context, collection string, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	col, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	vec := pgvector.NewVector(req.Vector)
	scoreExpr, orderExpr := "1 - (embedding <=> ?)", "embedding <=> ?"
	if vectorstore.Distance(col.Distance) == vectorstore.DistanceDot {
		scoreExpr, orderExpr = "(embedding <#> ?) * -1", "embedding <#> ?"
	}

	query := s.db.WithContext(ctx).
		Table("vector_points").
		Select("id, payload, "+scoreExpr+" AS score", vec).
		Where("collection = ?", collection)
	if query, err = applyFilter(query, req.Filter); err != nil {
		return nil, err
	}
	if req.ScoreThreshold > 0 {
		query = query.Where(scoreExpr+" >= ?", vec, req.ScoreThreshold)
	}

	var rows []scoredRow
	err = query.
		Order(gorm.Expr(orderExpr, vec)).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]vectorstore.ScoredPoint, len(rows))
	for i, r := range rows {
		out[i] = vectorstore.ScoredPoint{ID: r.Id, Score: r.Score, Payload: decodePayload(r.Payload)}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, collection string, filter *vectorstore.Filter) (int64, error) {
	query, err := applyFilter(s.db.WithContext(ctx).Model(&PointRow{}).Where("collection = ?", collection), filter)
	if err != nil {
		return 0, err
	}
	var count int64
	err = query.Count(&count).Error
	return count, err
}

// Scroll pages in id order. The offset token is the JSON-quoted id of the next page's first row.
func (s *Store) Scroll(ctx context.Context, collection string, req vectorstore.ScrollRequest) (*vectorstore.ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Where("collection = ?", collection)
	if req.Offset != "" {
		var from string
		if err := json.Unmarshal([]byte(req.Offset), &from); err != nil {
			return nil, fmt.Errorf("invalid scroll offset: %w", err)
		}
		query = query.Where("id >= ?", from)
	}
	query, err := applyFilter(query, req.Filter)
	if err != nil {
		return nil, err
	}

	var rows []*PointRow
	if err := query.Order("id ASC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}

	page := &vectorstore.ScrollPage{}
	if len(rows) > limit {
		next, _ := json.Marshal(rows[limit].Id)
		page.NextOffset = vectorstore.Offset(next)
		rows = rows[:limit]
	}
	page.Points = make([]vectorstore.Point, len(rows))
	for i, r := range rows {
		p := vectorstore.Point{ID: r.Id, Payload: decodePayload(r.Payload)}
		if req.WithVectors {
			p.Vector = r.Embedding.Slice()
		}
		page.Points[i] = p
	}
	return page, nil
}

func (s *Store) GetCollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	col, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	count, err := s.Count(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return &vectorstore.CollectionInfo{
		Name:        col.Name,
		Status:      "green",
		PointsCount: count,
		VectorSize:  col.VectorSize,
		Distance:    vectorstore.Distance(col.Distance),
	}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&Collection{}).Order("name").Pluck("name", &names).Error
	return names, err
}

func (s *Store) IsHealthy(ctx context.Context) bool {
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func decodePayload(raw datatypes.JSON) map[string]any {
	payload := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return payload
}
