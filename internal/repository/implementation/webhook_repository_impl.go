package implementation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/mapper"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/contract"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
)

type WebhookTargetRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WebhookMapper
}

func NewWebhookTargetRepository(db *gorm.DB) contract.WebhookTargetRepository {
	return &WebhookTargetRepositoryImpl{
		db:     db,
		mapper: mapper.NewWebhookMapper(),
	}
}

func (r *WebhookTargetRepositoryImpl) Create(ctx context.Context, target *entity.WebhookTarget) error {
	m := r.mapper.TargetToModel(target)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*target = *r.mapper.TargetToEntity(m)
	return nil
}

func (r *WebhookTargetRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WebhookTarget, error) {
	var m model.WebhookTarget
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.TargetToEntity(&m), nil
}

func (r *WebhookTargetRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WebhookTarget, error) {
	var models []*model.WebhookTarget
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	targets := make([]*entity.WebhookTarget, len(models))
	for i, m := range models {
		targets[i] = r.mapper.TargetToEntity(m)
	}
	return targets, nil
}

func (r *WebhookTargetRepositoryImpl) IncrementCounter(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	column := "failure_count"
	if success {
		column = "success_count"
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookTarget{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			column:              gorm.Expr(column + " + 1"),
			"last_triggered_at": at,
		}).Error
}

type WebhookDeliveryRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WebhookMapper
}

func NewWebhookDeliveryRepository(db *gorm.DB) contract.WebhookDeliveryRepository {
	return &WebhookDeliveryRepositoryImpl{
		db:     db,
		mapper: mapper.NewWebhookMapper(),
	}
}

func (r *WebhookDeliveryRepositoryImpl) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	m := r.mapper.DeliveryToModel(delivery)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*delivery = *r.mapper.DeliveryToEntity(m)
	return nil
}

func (r *WebhookDeliveryRepositoryImpl) Update(ctx context.Context, delivery *entity.WebhookDelivery) error {
	m := r.mapper.DeliveryToModel(delivery)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*delivery = *r.mapper.DeliveryToEntity(m)
	return nil
}

func (r *WebhookDeliveryRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WebhookDelivery, error) {
	var m model.WebhookDelivery
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.DeliveryToEntity(&m), nil
}
