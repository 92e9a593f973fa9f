// Package value classifies the loosely typed field values collected by
// forms into the small closed set of kinds the evaluators work with.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the dynamic kind of a field value.
type Kind int

const (
	Absent Kind = iota
	String
	Number
	Bool
	Other
)

func (k Kind) String() string {
	switch k {
	case Absent:
		return "absent"
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	default:
		return "other"
	}
}

// KindOf reports the kind of v. A nil value is Absent.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return Absent
	case string:
		return String
	case bool:
		return Bool
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return Number
	default:
		return Other
	}
}

// Lookup returns data[field] and its kind.
func Lookup(data map[string]any, field string) (any, Kind) {
	v, ok := data[field]
	if !ok {
		return nil, Absent
	}
	return v, KindOf(v)
}

// AsNumber converts a Number kind to float64. Other kinds report false.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ParseNumber is AsNumber plus parsing of numeric strings. Anything that
// cannot be read as a finite number reports false.
func ParseNumber(v any) (float64, bool) {
	if f, ok := AsNumber(v); ok {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsString renders v the way it is shown to users: numbers without
// trailing zeros, lists comma-joined, objects as compact JSON.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = AsString(e)
		}
		return strings.Join(parts, ",")
	}
	if f, ok := AsNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

// Equal compares two values of the same kind. Values of different kinds are
// never equal; numbers compare numerically regardless of Go type.
func Equal(a, b any) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case Absent:
		return true
	case String:
		return a.(string) == b.(string)
	case Bool:
		return a.(bool) == b.(bool)
	case Number:
		fa, oka := AsNumber(a)
		fb, okb := AsNumber(b)
		return oka && okb && fa == fb
	}
	return false
}
