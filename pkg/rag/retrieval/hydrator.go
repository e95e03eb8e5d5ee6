package retrieval

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormHydrator batch-loads hydration rows with one query per table.
type GormHydrator struct {
	db *gorm.DB
}

var _ Hydrator = (*GormHydrator)(nil)

func NewGormHydrator(db *gorm.DB) *GormHydrator {
	return &GormHydrator{db: db}
}

func (h *GormHydrator) Hydrate(ctx context.Context, cfg HydrationConfig, keys []string) (map[string]map[string]any, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]map[string]any{}, nil
	}

	var rows []map[string]any
	err := h.db.WithContext(ctx).
		Table(cfg.Table).
		Where(clause.IN{Column: clause.Column{Name: cfg.KeyField}, Values: toValues(keys)}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", cfg.Table, err)
	}

	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		out[fmt.Sprint(row[cfg.KeyField])] = row
	}

	for _, rel := range cfg.Relations {
		var children []map[string]any
		err := h.db.WithContext(ctx).
			Table(rel.Table).
			Where(clause.IN{Column: clause.Column{Name: rel.ForeignKey}, Values: toValues(keys)}).
			Find(&children).Error
		if err != nil {
			return nil, fmt.Errorf("hydrate relation %s: %w", rel.Name, err)
		}
		grouped := map[string][]map[string]any{}
		for _, child := range children {
			k := fmt.Sprint(child[rel.ForeignKey])
			grouped[k] = append(grouped[k], child)
		}
		for k, row := range out {
			if list, ok := grouped[k]; ok {
				row[rel.Name] = list
			} else {
				row[rel.Name] = []map[string]any{}
			}
		}
	}
	return out, nil
}

func toValues(keys []string) []interface{} {
	values := make([]interface{}, len(keys))
	for i, k := range keys {
		values[i] = k
	}
	return values
}
