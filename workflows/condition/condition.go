// Package condition evaluates routing conditions against the flat field map
// an instance has collected so far. Evaluation is total: absent fields and
// mismatched kinds make a condition false, never an error.
package condition

import (
	"regexp"
	"strings"
	"sync"

	"github.com/davidroman0O/stageflow/workflows/value"
)

// Operator is a comparison operator
type Operator string

const (
	Equals         Operator = "equals"
	Contains       Operator = "contains"
	GreaterThan    Operator = "greaterThan"
	LessThan       Operator = "lessThan"
	Exists         Operator = "exists"
	MatchesPattern Operator = "matchesPattern"
)

var operatorAliases = map[string]Operator{
	"greater_than":    GreaterThan,
	"less_than":       LessThan,
	"matches_pattern": MatchesPattern,
}

// Normalize maps snake_case spellings used by older templates onto the
// canonical operator names.
func (o Operator) Normalize() Operator {
	if alias, ok := operatorAliases[string(o)]; ok {
		return alias
	}
	return o
}

// Valid reports whether o names a known operator.
func (o Operator) Valid() bool {
	switch o.Normalize() {
	case Equals, Contains, GreaterThan, LessThan, Exists, MatchesPattern:
		return true
	}
	return false
}

// Condition is a single comparison. NextStageID is the stage selected when
// the condition holds; it is ignored by Evaluate.
type Condition struct {
	Field       string   `json:"field" yaml:"field"`
	Operator    Operator `json:"operator" yaml:"operator"`
	Value       any      `json:"value,omitempty" yaml:"value,omitempty"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	NextStageID string   `json:"nextStageId,omitempty" yaml:"nextStageId,omitempty"`
}

// Evaluate tests c against data.
func Evaluate(c Condition, data map[string]any) bool {
	if c.Field == "" {
		return false
	}

	v, kind := value.Lookup(data, c.Field)
	op := c.Operator.Normalize()

	if op == Exists {
		return kind != value.Absent && !(kind == value.String && v.(string) == "")
	}
	if kind == value.Absent {
		return false
	}

	switch op {
	case Equals:
		return value.Equal(v, c.Value)
	case Contains:
		s, ok := v.(string)
		sub, subOK := c.Value.(string)
		return ok && subOK && strings.Contains(s, sub)
	case GreaterThan, LessThan:
		lhs, ok := value.AsNumber(v)
		if !ok {
			return false
		}
		rhs, ok := value.AsNumber(c.Value)
		if !ok {
			return false
		}
		if op == GreaterThan {
			return lhs > rhs
		}
		return lhs < rhs
	case MatchesPattern:
		re := compile(c.Pattern)
		return re != nil && re.MatchString(value.AsString(v))
	}
	return false
}

// First returns the first condition that holds, in order.
func First(conds []Condition, data map[string]any) (Condition, bool) {
	for _, c := range conds {
		if Evaluate(c, data) {
			return c, true
		}
	}
	return Condition{}, false
}

var patterns sync.Map // pattern -> *regexp.Regexp, nil for invalid

func compile(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	if cached, ok := patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	patterns.Store(pattern, re)
	return re
}
