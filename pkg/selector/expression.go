package selector

import (
	"sort"
	"strings"
)

// Operator describes how an expression compares a label with its values
type Operator int

const (
	// OpIn requires the key to exist and its value to be in the set
	OpIn Operator = iota + 1
	// OpNotIn requires the key to be absent or its value not to be in the set
	OpNotIn
	// OpEqual requires the key to exist and be equal to the value
	OpEqual
	// OpNotEqual requires the key to be absent or not equal to the value
	OpNotEqual
	// OpExists requires the key to exist
	OpExists
	// OpDoesNotExist requires the key to be absent
	OpDoesNotExist
)

var operatorNames = map[Operator]string{
	OpIn:           "In",
	OpNotIn:        "NotIn",
	OpEqual:        "Equal",
	OpNotEqual:     "NotEqual",
	OpExists:       "Exists",
	OpDoesNotExist: "DoesNotExist",
}

func (o Operator) String() string {
	name, ok := operatorNames[o]
	if !ok {
		return "Unknown"
	}
	return name
}

func operatorByName(name string) (Operator, bool) {
	for op, opName := range operatorNames {
		if opName == name {
			return op, true
		}
	}
	return 0, false
}

// Expression is a single requirement of a selector. For set operators Values is sorted and free of duplicates,
// for equality operators it contains exactly one value and it's empty for the existence checks.
type Expression struct {
	Key      string
	Operator Operator
	Values   []string
}

// In builds a set expression which matches if the key exists and its value is one of values
func In(key string, values ...string) Expression {
	return Expression{Key: key, Operator: OpIn, Values: normalizeSet(values)}
}

// NotIn builds a set expression which matches if the key doesn't exist or its value isn't one of values
func NotIn(key string, values ...string) Expression {
	return Expression{Key: key, Operator: OpNotIn, Values: normalizeSet(values)}
}

// Equal builds an expression which matches if the key exists and is equal to value
func Equal(key, value string) Expression {
	return Expression{Key: key, Operator: OpEqual, Values: []string{value}}
}

// NotEqual builds an expression which matches if the key doesn't exist or isn't equal to value
func NotEqual(key, value string) Expression {
	return Expression{Key: key, Operator: OpNotEqual, Values: []string{value}}
}

// Exists builds an expression which matches if the key exists
func Exists(key string) Expression {
	return Expression{Key: key, Operator: OpExists}
}

// DoesNotExist builds an expression which matches if the key doesn't exist
func DoesNotExist(key string) Expression {
	return Expression{Key: key, Operator: OpDoesNotExist}
}

func normalizeSet(values []string) []string {
	result := make([]string, 0, len(values))
	result = append(result, values...)
	sort.Strings(result)

	out := result[:0]
	for idx, value := range result {
		if idx > 0 && value == result[idx-1] {
			continue
		}
		out = append(out, value)
	}
	return out
}

// Value returns the single value of an equality expression (or the first value for set expressions)
func (e Expression) Value() string {
	if len(e.Values) == 0 {
		return ""
	}
	return e.Values[0]
}

func (e Expression) hasValue(value string) bool {
	idx := sort.SearchStrings(e.Values, value)
	return idx < len(e.Values) && e.Values[idx] == value
}

// Matches checks the expression against the passed label set
func (e Expression) Matches(labels map[string]string) bool {
	value, present := labels[e.Key]

	switch e.Operator {
	case OpIn:
		return present && e.hasValue(value)
	case OpNotIn:
		return !present || !e.hasValue(value)
	case OpEqual:
		return present && value == e.Value()
	case OpNotEqual:
		return !present || value != e.Value()
	case OpExists:
		return present
	case OpDoesNotExist:
		return !present
	}

	return false
}

// String renders the expression in selector syntax
func (e Expression) String() string {
	switch e.Operator {
	case OpIn:
		return e.Key + " in (" + strings.Join(e.Values, ",") + ")"
	case OpNotIn:
		return e.Key + " notin (" + strings.Join(e.Values, ",") + ")"
	case OpEqual:
		return e.Key + "=" + e.Value()
	case OpNotEqual:
		return e.Key + "!=" + e.Value()
	case OpExists:
		return e.Key
	case OpDoesNotExist:
		return "!" + e.Key
	}

	return "<invalid " + e.Operator.String() + " " + e.Key + ">"
}

// Clone returns a deep copy
func (e Expression) Clone() Expression {
	if e.Values != nil {
		e.Values = append([]string(nil), e.Values...)
	}
	return e
}

// Expressions is a conjunction of expressions
type Expressions []Expression

// Matches returns true if every expression matches. An empty list matches everything.
func (l Expressions) Matches(labels map[string]string) bool {
	for _, expr := range l {
		if !expr.Matches(labels) {
			return false
		}
	}
	return true
}

func (l Expressions) String() string {
	parts := make([]string, len(l))
	for idx, expr := range l {
		parts[idx] = expr.String()
	}
	return strings.Join(parts, ",")
}

// Keys returns the sorted list of keys referenced by the expressions
func (l Expressions) Keys() []string {
	seen := make(map[string]bool, len(l))
	keys := make([]string, 0, len(l))
	for _, expr := range l {
		if !seen[expr.Key] {
			seen[expr.Key] = true
			keys = append(keys, expr.Key)
		}
	}

	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy
func (l Expressions) Clone() Expressions {
	if l == nil {
		return nil
	}

	result := make(Expressions, len(l))
	for idx, expr := range l {
		result[idx] = expr.Clone()
	}
	return result
}
