// Package aggregate derives summary values from fields collected across
// stages. Apply never fails: missing fields are skipped.
package aggregate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidroman0O/stageflow/workflows/value"
)

// Operation names an aggregation
type Operation string

const (
	Merge     Operation = "merge"
	Summarize Operation = "summarize"
	Calculate Operation = "calculate"
	Transform Operation = "transform"
)

// Transform formats, read from Rule.Parameters["format"].
const (
	FormatList = "list"
	FormatJSON = "json"
)

// Rule derives TargetField from SourceFields.
type Rule struct {
	SourceFields []string       `json:"sourceFields" yaml:"sourceFields"`
	TargetField  string         `json:"targetField" yaml:"targetField"`
	Operation    Operation      `json:"operation" yaml:"operation"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Apply computes the rule over data. Unknown operations yield the first
// present source value, or nil when none is present.
func Apply(rule Rule, data map[string]any) any {
	present := presentValues(rule.SourceFields, data)

	switch rule.Operation {
	case Merge:
		return join(present, " ")
	case Summarize:
		return fmt.Sprintf("Summary of %s: %s", strings.Join(rule.SourceFields, ", "), join(present, "; "))
	case Calculate:
		var sum float64
		for _, v := range present {
			if n, ok := value.ParseNumber(v); ok {
				sum += n
			}
		}
		return sum
	case Transform:
		return transform(present, rule.Parameters)
	}

	if len(present) == 0 {
		return nil
	}
	return present[0]
}

func presentValues(fields []string, data map[string]any) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		if v, kind := value.Lookup(data, f); kind != value.Absent {
			out = append(out, v)
		}
	}
	return out
}

func join(values []any, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = value.AsString(v)
	}
	return strings.Join(parts, sep)
}

func transform(values []any, params map[string]any) any {
	format, _ := params["format"].(string)

	switch format {
	case FormatList:
		var lines []string
		for _, v := range values {
			if s := value.AsString(v); s != "" && !isFalse(v) {
				lines = append(lines, "• "+s)
			}
		}
		return strings.Join(lines, "\n")
	case FormatJSON:
		b, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return join(values, ", ")
		}
		return string(b)
	}
	return join(values, ", ")
}

// isFalse drops the falsy scalars a bulleted list would otherwise show.
func isFalse(v any) bool {
	if b, ok := v.(bool); ok {
		return !b
	}
	if n, ok := value.AsNumber(v); ok {
		return n == 0
	}
	return false
}
