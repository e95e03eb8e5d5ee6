package mapper

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/rrbip/batirama-connect-sub002/internal/entity"
	"github.com/rrbip/batirama-connect-sub002/internal/model"
)

type WebhookMapper struct{}

func NewWebhookMapper() *WebhookMapper {
	return &WebhookMapper{}
}

func (m *WebhookMapper) TargetToEntity(t *model.WebhookTarget) *entity.WebhookTarget {
	if t == nil {
		return nil
	}
	var events []string
	if len(t.Events) > 0 {
		_ = json.Unmarshal(t.Events, &events)
	}
	return &entity.WebhookTarget{
		Id:              t.Id,
		Name:            t.Name,
		Url:             t.Url,
		Secret:          t.Secret,
		Events:          events,
		IsActive:        t.IsActive,
		SuccessCount:    t.SuccessCount,
		FailureCount:    t.FailureCount,
		LastTriggeredAt: t.LastTriggeredAt,
		CreatedAt:       t.CreatedAt,
	}
}

func (m *WebhookMapper) TargetToModel(t *entity.WebhookTarget) *model.WebhookTarget {
	if t == nil {
		return nil
	}
	events := t.Events
	if events == nil {
		events = []string{}
	}
	raw, _ := json.Marshal(events)
	return &model.WebhookTarget{
		Id:              t.Id,
		Name:            t.Name,
		Url:             t.Url,
		Secret:          t.Secret,
		Events:          datatypes.JSON(raw),
		IsActive:        t.IsActive,
		SuccessCount:    t.SuccessCount,
		FailureCount:    t.FailureCount,
		LastTriggeredAt: t.LastTriggeredAt,
		CreatedAt:       t.CreatedAt,
	}
}

func (m *WebhookMapper) DeliveryToEntity(d *model.WebhookDelivery) *entity.WebhookDelivery {
	if d == nil {
		return nil
	}
	var updatedAt *time.Time
	if !d.UpdatedAt.IsZero() {
		t := d.UpdatedAt
		updatedAt = &t
	}
	return &entity.WebhookDelivery{
		Id:             d.Id,
		TargetId:       d.TargetId,
		Event:          d.Event,
		Payload:        []byte(d.Payload),
		Status:         d.Status,
		Attempts:       d.Attempts,
		LastHttpStatus: d.LastHttpStatus,
		LastError:      d.LastError,
		ResponseTimeMs: d.ResponseTimeMs,
		NextAttemptAt:  d.NextAttemptAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *WebhookMapper) DeliveryToModel(d *entity.WebhookDelivery) *model.WebhookDelivery {
	if d == nil {
		return nil
	}
	var updatedAt time.Time
	if d.UpdatedAt != nil {
		updatedAt = *d.UpdatedAt
	}
	return &model.WebhookDelivery{
		Id:             d.Id,
		TargetId:       d.TargetId,
		Event:          d.Event,
		Payload:        datatypes.JSON(d.Payload),
		Status:         d.Status,
		Attempts:       d.Attempts,
		LastHttpStatus: d.LastHttpStatus,
		LastError:      d.LastError,
		ResponseTimeMs: d.ResponseTimeMs,
		NextAttemptAt:  d.NextAttemptAt,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}
