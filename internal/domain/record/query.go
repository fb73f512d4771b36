package record

import (
	"fmt"
	"regexp"
	"sort"
)

// Operator is a row filter comparison
type Operator string

const (
	OpEq  Operator = "eq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// Filter compares a top-level document field with a value
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Query selects documents of one collection
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

var fieldName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Where appends an equality filter
func (q Query) Where(field string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpEq, Value: value})
	return q
}

// WhereOp appends a filter with an explicit operator
func (q Query) WhereOp(field string, op Operator, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Validate rejects field names and operators the backends cannot express safely
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if !fieldName.MatchString(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
		switch f.Op {
		case OpEq, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("invalid filter operator %q", f.Op)
		}
	}
	if q.OrderBy != "" && !fieldName.MatchString(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	return nil
}

// Match evaluates the filters against a decoded document
func (q Query) Match(doc map[string]any) bool {
	for _, f := range q.Filters {
		c, ok := compare(doc[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		}
	}
	return true
}

// Apply filters, orders and limits decoded documents in memory
func (q Query) Apply(docs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		if q.Match(d) {
			out = append(out, d)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool { return q.Less(out[i], out[j]) })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Less orders two decoded documents by OrderBy
func (q Query) Less(a, b map[string]any) bool {
	c, _ := compare(a[q.OrderBy], b[q.OrderBy])
	if q.Desc {
		return c > 0
	}
	return c < 0
}

// compare orders numbers numerically, strings lexically and booleans false<true
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
