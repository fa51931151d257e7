package document

import (
	"cmp"
	"fmt"
	"strings"
)

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual matches equal values; ints and floats compare numerically.
	OpEqual Operator = "eq"
	// OpNotEqual matches present fields with a different value.
	OpNotEqual Operator = "ne"
	// OpGreaterThan orders numbers numerically and strings lexicographically.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
	// OpIn matches values equal to any element of an array operand.
	OpIn Operator = "in"
	// OpNotIn matches values equal to no element of an array operand.
	OpNotIn Operator = "not_in"
	// OpContains matches substrings of string fields and elements of array fields.
	OpContains Operator = "contains"
	// OpStartsWith represents the string prefix operator.
	OpStartsWith Operator = "starts_with"
	// OpEndsWith represents the string suffix operator.
	OpEndsWith Operator = "ends_with"
)

// ParseOperator validates an operator name.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual,
		OpIn, OpNotIn, OpContains, OpStartsWith, OpEndsWith:
		return op, nil
	default:
		return "", fmt.Errorf("document: unknown filter operator %q", s)
	}
}

// Filter represents a single filter condition.
type Filter struct {
	Key      string
	Operator Operator
	Value    Value
}

// Eq returns a filter matching key == v.
func Eq(key string, v Value) Filter { return Filter{Key: key, Operator: OpEqual, Value: v} }

// Ne returns a filter matching key != v.
func Ne(key string, v Value) Filter { return Filter{Key: key, Operator: OpNotEqual, Value: v} }

// Gt returns a filter matching key > v.
func Gt(key string, v Value) Filter { return Filter{Key: key, Operator: OpGreaterThan, Value: v} }

// Gte returns a filter matching key >= v.
func Gte(key string, v Value) Filter { return Filter{Key: key, Operator: OpGreaterEqual, Value: v} }

// Lt returns a filter matching key < v.
func Lt(key string, v Value) Filter { return Filter{Key: key, Operator: OpLessThan, Value: v} }

// Lte returns a filter matching key <= v.
func Lte(key string, v Value) Filter { return Filter{Key: key, Operator: OpLessEqual, Value: v} }

// In returns a filter matching any of vs.
func In(key string, vs ...Value) Filter { return Filter{Key: key, Operator: OpIn, Value: Array(vs)} }

// NotIn returns a filter matching none of vs.
func NotIn(key string, vs ...Value) Filter {
	return Filter{Key: key, Operator: OpNotIn, Value: Array(vs)}
}

// Contains returns a substring or array-membership filter.
func Contains(key string, v Value) Filter { return Filter{Key: key, Operator: OpContains, Value: v} }

// StartsWith returns a string prefix filter.
func StartsWith(key, prefix string) Filter {
	return Filter{Key: key, Operator: OpStartsWith, Value: String(prefix)}
}

// EndsWith returns a string suffix filter.
func EndsWith(key, suffix string) Filter {
	return Filter{Key: key, Operator: OpEndsWith, Value: String(suffix)}
}

// Validate checks the operator and operand shape.
func (f *Filter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("document: filter key is empty")
	}
	if _, err := ParseOperator(string(f.Operator)); err != nil {
		return err
	}
	switch f.Operator {
	case OpIn, OpNotIn:
		if f.Value.Kind != KindArray {
			return fmt.Errorf("document: %s filter on %q needs an array operand", f.Operator, f.Key)
		}
	case OpStartsWith, OpEndsWith:
		if f.Value.Kind != KindString {
			return fmt.Errorf("document: %s filter on %q needs a string operand", f.Operator, f.Key)
		}
	}
	return nil
}

// Matches checks if the provided fields match this filter.
// A missing field matches nothing, not even ne and not_in.
func (f *Filter) Matches(fields Fields) bool {
	value, exists := fields.Lookup(f.Key)
	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return compareEqual(value, f.Value)
	case OpNotEqual:
		return !compareEqual(value, f.Value)
	case OpGreaterThan:
		c, ok := compareOrdered(value, f.Value)
		return ok && c > 0
	case OpGreaterEqual:
		c, ok := compareOrdered(value, f.Value)
		return ok && c >= 0
	case OpLessThan:
		c, ok := compareOrdered(value, f.Value)
		return ok && c < 0
	case OpLessEqual:
		c, ok := compareOrdered(value, f.Value)
		return ok && c <= 0
	case OpIn:
		return compareIn(value, f.Value)
	case OpNotIn:
		return f.Value.Kind == KindArray && !compareIn(value, f.Value)
	case OpContains:
		return compareContains(value, f.Value)
	case OpStartsWith:
		s, ok1 := value.AsString()
		p, ok2 := f.Value.AsString()
		return ok1 && ok2 && strings.HasPrefix(s, p)
	case OpEndsWith:
		s, ok1 := value.AsString()
		p, ok2 := f.Value.AsString()
		return ok1 && ok2 && strings.HasSuffix(s, p)
	default:
		return false
	}
}

// FilterSet represents a set of filters that must all match (AND logic).
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet creates a new filter set.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Validate checks every filter in the set.
func (fs *FilterSet) Validate() error {
	if fs == nil {
		return nil
	}
	for i := range fs.Filters {
		if err := fs.Filters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches checks if the provided fields match all filters in the set.
// A nil or empty set matches everything.
func (fs *FilterSet) Matches(fields Fields) bool {
	if fs == nil {
		return true
	}
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(fields) {
			return false
		}
	}
	return true
}

func compareEqual(a, b Value) bool {
	if a.Kind == KindNull || b.Kind == KindNull {
		return a.Kind == b.Kind
	}

	if isNumber(a) && isNumber(b) {
		if a.Kind == KindInt && b.Kind == KindInt {
			return a.I64 == b.I64
		}
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return af == bf
	}

	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.B == b.B
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !compareEqual(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.M) != len(b.M) {
			return false
		}
		for k, av := range a.M {
			bv, ok := b.M[k]
			if !ok || !compareEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compareOrdered compares numbers with numbers and strings with strings.
func compareOrdered(a, b Value) (int, bool) {
	if isNumber(a) && isNumber(b) {
		if a.Kind == KindInt && b.Kind == KindInt {
			return cmp.Compare(a.I64, b.I64), true
		}
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return cmp.Compare(af, bf), true
	}
	if a.Kind == KindString && b.Kind == KindString {
		return strings.Compare(a.s.Value(), b.s.Value()), true
	}
	return 0, false
}

func compareIn(a, b Value) bool {
	if b.Kind != KindArray {
		return false
	}
	for _, item := range b.A {
		if compareEqual(a, item) {
			return true
		}
	}
	return false
}

func compareContains(a, b Value) bool {
	switch a.Kind {
	case KindString:
		sub, ok := b.AsString()
		return ok && strings.Contains(a.s.Value(), sub)
	case KindArray:
		for _, item := range a.A {
			if compareEqual(item, b) {
				return true
			}
		}
	}
	return false
}

func isNumber(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}
