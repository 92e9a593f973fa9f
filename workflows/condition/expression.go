package condition

import (
	"github.com/davidroman0O/stageflow/workflows/value"
)

// ExpressionType selects how an Expression is evaluated
type ExpressionType string

const (
	Simple     ExpressionType = "simple"
	Complex    ExpressionType = "complex"
	AIDecision ExpressionType = "ai_decision"
)

// LogicalOperator combines the sub-conditions of a complex expression
type LogicalOperator string

const (
	And LogicalOperator = "and"
	Or  LogicalOperator = "or"
	// Not negates the first sub-condition only.
	Not LogicalOperator = "not"
)

// Expression is a trigger condition. Simple expressions use the embedded
// Condition; complex ones combine SubConditions.
type Expression struct {
	Type ExpressionType `json:"type" yaml:"type"`
	Condition       `yaml:",inline"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
	SubConditions   []Condition     `json:"subConditions,omitempty" yaml:"subConditions,omitempty"`
	AIPrompt        string          `json:"aiPrompt,omitempty" yaml:"aiPrompt,omitempty"`
}

// EvaluateExpression tests e against data.
func EvaluateExpression(e Expression, data map[string]any) bool {
	switch e.Type {
	case Simple:
		return e.Operator != "" && Evaluate(e.Condition, data)
	case Complex:
		return evaluateComplex(e, data)
	case AIDecision:
		return evaluateAIDecision(e, data)
	}
	return false
}

func evaluateComplex(e Expression, data map[string]any) bool {
	if len(e.SubConditions) == 0 {
		return false
	}

	results := make([]bool, len(e.SubConditions))
	for i, sub := range e.SubConditions {
		results[i] = Evaluate(sub, data)
	}

	switch e.LogicalOperator {
	case And:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	case Or:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	case Not:
		return !results[0]
	}
	return results[0]
}

// evaluateAIDecision stands in for a model call: the data is judged to need
// attention when it is wide or carries structured or long values.
func evaluateAIDecision(e Expression, data map[string]any) bool {
	if e.AIPrompt == "" {
		return false
	}
	if len(data) > 5 {
		return true
	}
	for _, v := range data {
		switch value.KindOf(v) {
		case value.Other:
			return true
		case value.String:
			if len(v.(string)) > 100 {
				return true
			}
		}
	}
	return false
}
