package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FilterOp enumerates the comparison operators of the filter algebra.
type FilterOp string

const (
	OpEquals      FilterOp = "equals"
	OpNotEquals   FilterOp = "not_equals"
	OpContains    FilterOp = "contains"
	OpNotContains FilterOp = "not_contains"
	OpIn          FilterOp = "in"
	OpNotIn       FilterOp = "not_in"
	OpGT          FilterOp = "gt"
	OpGTE         FilterOp = "gte"
	OpLT          FilterOp = "lt"
	OpLTE         FilterOp = "lte"
	OpExists      FilterOp = "exists"
	OpNotExists   FilterOp = "not_exists"
)

// IsValid reports whether op is a recognised operator.
func (op FilterOp) IsValid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpIn, OpNotIn,
		OpGT, OpGTE, OpLT, OpLTE, OpExists, OpNotExists:
		return true
	}
	return false
}

// Filter is one predicate over a retrieval [Result]. Field uses dot notation
// into the result ("metadata.user_id", "content", "score", "type", …).
//
// Retrievers push down the filters their backend supports natively and apply
// the remainder in-process via [Filter.Matches]. A filter with an unknown
// operator is logged once per evaluation and matches nothing.
type Filter struct {
	Field string   `json:"field" yaml:"field"`
	Op    FilterOp `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate returns an error when the filter is structurally invalid (empty
// field or unknown operator). Used at the API boundary so that bad filters
// surface as input errors instead of silently matching nothing.
func (f Filter) Validate() error {
	if f.Field == "" {
		return fmt.Errorf("%w: filter field is empty", ErrInvalidFilter)
	}
	if !f.Op.IsValid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
	}
	return nil
}

// Matches evaluates the filter against r.
func (f Filter) Matches(r Result) bool {
	value, present := resolveField(r, f.Field)

	switch f.Op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}
	if !present {
		return false
	}

	switch f.Op {
	case OpEquals:
		return looseEqual(value, f.Value)
	case OpNotEquals:
		return !looseEqual(value, f.Value)
	case OpContains:
		return containsValue(value, f.Value)
	case OpNotContains:
		return !containsValue(value, f.Value)
	case OpIn:
		return inList(value, f.Value)
	case OpNotIn:
		return !inList(value, f.Value)
	case OpGT, OpGTE, OpLT, OpLTE:
		return compareOrdered(value, f.Value, f.Op)
	default:
		slog.Warn("filter: unknown operator", "op", string(f.Op), "field", f.Field)
		return false
	}
}

// ApplyFilters returns the subset of results matching every filter.
// The returned slice is non-nil.
func ApplyFilters(results []Result, filters []Filter) []Result {
	if len(filters) == 0 {
		if results == nil {
			return []Result{}
		}
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		keep := true
		for _, f := range filters {
			if !f.Matches(r) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

// resolveField walks the dot-notation path into r and returns the value and
// whether the path exists.
func resolveField(r Result, field string) (any, bool) {
	head, rest, _ := strings.Cut(field, ".")
	switch head {
	case "id":
		return r.ID, true
	case "type":
		return string(r.Type), true
	case "content":
		return r.Content, true
	case "score":
		return r.Score, true
	case "source":
		return r.Source, true
	case "timestamp":
		if r.Timestamp.IsZero() {
			return nil, false
		}
		return r.Timestamp, true
	case "entities":
		return r.Entities, true
	case "relationships":
		return r.Relationships, true
	case "metadata":
		if rest == "" {
			return r.Metadata, r.Metadata != nil
		}
		return resolveMap(r.Metadata, rest)
	default:
		// Bare field names fall through to metadata for convenience, the way
		// callers of the original API wrote them.
		if rest == "" && r.Metadata != nil {
			v, ok := r.Metadata[head]
			return v, ok
		}
		return nil, false
	}
}

// resolveMap walks the remaining dot path through nested maps.
func resolveMap(m map[string]any, path string) (any, bool) {
	head, rest, _ := strings.Cut(path, ".")
	if m == nil {
		return nil, false
	}
	v, ok := m[head]
	if !ok {
		return nil, false
	}
	if rest == "" {
		return v, true
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return resolveMap(nested, rest)
}

// looseEqual compares scalars across the numeric and string representations
// that survive JSON decoding.
func looseEqual(a, b any) bool {
	if fa, oka := asFloat(a); oka {
		if fb, okb := asFloat(b); okb {
			return fa == fb
		}
	}
	if ta, oka := asTime(a); oka {
		if tb, okb := asTime(b); okb {
			return ta.Equal(tb)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// containsValue implements the "contains" operator: substring match for
// strings, membership for slices.
func containsValue(value, needle any) bool {
	switch v := value.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(strings.ToLower(v), strings.ToLower(n))
	case []string:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

// inList implements the "in" operator: the field value is a member of the
// filter's list value.
func inList(value, list any) bool {
	switch l := list.(type) {
	case []string:
		for _, item := range l {
			if looseEqual(value, item) {
				return true
			}
		}
	case []any:
		for _, item := range l {
			if looseEqual(value, item) {
				return true
			}
		}
	}
	return false
}

// compareOrdered implements gt/gte/lt/lte over numbers and timestamps.
func compareOrdered(value, bound any, op FilterOp) bool {
	if ta, oka := asTime(value); oka {
		if tb, okb := asTime(bound); okb {
			switch op {
			case OpGT:
				return ta.After(tb)
			case OpGTE:
				return !ta.Before(tb)
			case OpLT:
				return ta.Before(tb)
			case OpLTE:
				return !ta.After(tb)
			}
		}
		return false
	}
	fa, oka := asFloat(value)
	fb, okb := asFloat(bound)
	if !oka || !okb {
		return false
	}
	switch op {
	case OpGT:
		return fa > fb
	case OpGTE:
		return fa >= fb
	case OpLT:
		return fa < fb
	case OpLTE:
		return fa <= fb
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
