package vectorstore

import (
	"encoding/json"
)

// Condition matches a payload field against one value or any of several values.
type Condition struct {
	Key   string
	Value any
	Any   []any
}

func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Value: value}
}

// MatchAny matches any of values. With no values the condition matches nothing.
func MatchAny(key string, values ...any) Condition {
	if values == nil {
		values = []any{}
	}
	return Condition{Key: key, Any: values}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	match := map[string]any{"value": c.Value}
	switch {
	case c.Any != nil && len(c.Any) == 0:
		// An empty id set selects no point.
		return json.Marshal(map[string]any{"has_id": []any{}})
	case c.Any != nil:
		match = map[string]any{"any": c.Any}
	}
	return json.Marshal(map[string]any{"key": c.Key, "match": match})
}

// Filter follows Qdrant boolean semantics: all of Must, at least one of Should, none of MustNot.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	Should  []Condition `json:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// And returns a filter requiring both f and the extra must conditions.
func (f *Filter) And(conds ...Condition) *Filter {
	out := &Filter{}
	if f != nil {
		out.Must = append(out.Must, f.Must...)
		out.Should = append(out.Should, f.Should...)
		out.MustNot = append(out.MustNot, f.MustNot...)
	}
	out.Must = append(out.Must, conds...)
	return out
}
