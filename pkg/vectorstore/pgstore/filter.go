package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

// containment turns a condition into jsonb containment clauses, one per accepted value.
func containment(c vectorstore.Condition) (string, []interface{}, error) {
	values := c.Any
	if values == nil {
		values = []any{c.Value}
	}
	if len(values) == 0 {
		return "FALSE", nil, nil
	}
	clauses := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		doc, err := json.Marshal(map[string]any{c.Key: v})
		if err != nil {
			return "", nil, fmt.Errorf("encode condition %s: %w", c.Key, err)
		}
		clauses = append(clauses, "payload @> ?::jsonb")
		args = append(args, string(doc))
	}
	if len(clauses) == 1 {
		return clauses[0], args, nil
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

func group(conds []vectorstore.Condition, joiner string) (string, []interface{}, error) {
	parts := make([]string, 0, len(conds))
	var args []interface{}
	for _, c := range conds {
		sql, a, err := containment(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, joiner) + ")", args, nil
}

// applyFilter translates a vectorstore.Filter into WHERE clauses.
func applyFilter(db *gorm.DB, f *vectorstore.Filter) (*gorm.DB, error) {
	if f.IsEmpty() {
		return db, nil
	}
	if len(f.Must) > 0 {
		sql, args, err := group(f.Must, " AND ")
		if err != nil {
			return nil, err
		}
		db = db.Where(sql, args...)
	}
	if len(f.Should) > 0 {
		sql, args, err := group(f.Should, " OR ")
		if err != nil {
			return nil, err
		}
		db = db.Where(sql, args...)
	}
	if len(f.MustNot) > 0 {
		sql, args, err := group(f.MustNot, " OR ")
		if err != nil {
			return nil, err
		}
		db = db.Where("NOT "+sql, args...)
	}
	return db, nil
}
