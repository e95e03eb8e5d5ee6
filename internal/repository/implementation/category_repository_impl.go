package implementation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/mapper"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/contract"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
)

type CategoryRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.CategoryMapper
}

func NewCategoryRepository(db *gorm.DB) contract.CategoryRepository {
	return &CategoryRepositoryImpl{
		db:     db,
		mapper: mapper.NewCategoryMapper(),
	}
}

// Create inserts the category. A concurrent insert of the same name resolves to the
// existing row instead of failing.
func (r *CategoryRepositoryImpl) Create(ctx context.Context, category *entity.Category) error {
	m := r.mapper.ToModel(category)
	// Nested transaction runs as a savepoint inside a unit of work, so a conflict does not
	// abort the outer transaction.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		if !isUniqueViolation(err) {
			return err
		}
		var existing model.Category
		if err := r.db.WithContext(ctx).Where("name = ?", category.Name).First(&existing).Error; err != nil {
			return err
		}
		m = &existing
	}
	*category = *r.mapper.ToEntity(m)
	return nil
}

func (r *CategoryRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Category, error) {
	var m model.Category
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *CategoryRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Category, error) {
	var models []*model.Category
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *CategoryRepositoryImpl) IncrementUsage(ctx context.Context, id uuid.UUID, delta int) error {
	return r.db.WithContext(ctx).
		Model(&model.Category{}).
		Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", delta)).Error
}

func (r *CategoryRepositoryImpl) FindUsed(ctx context.Context, agentId *uuid.UUID) ([]*entity.Category, error) {
	db := r.db.WithContext(ctx)
	used := db.Model(&model.Chunk{}).
		Select("DISTINCT chunks.category_id").
		Where("chunks.category_id IS NOT NULL")
	if agentId != nil {
		used = used.
			Joins("JOIN documents ON documents.id = chunks.document_id").
			Where("documents.agent_id = ?", *agentId)
	}

	var models []*model.Category
	if err := db.Where("id IN (?)", used).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
