package common

import (
	"fmt"
	"strings"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

// RequireFieldsAction fails unless every listed field was collected
type RequireFieldsAction struct {
	workflow.BaseAction
	fields []string
}

// NewRequireFieldsAction creates a gate on the collected data
func NewRequireFieldsAction(name string, fields ...string) *RequireFieldsAction {
	return &RequireFieldsAction{
		BaseAction: workflow.NewBaseAction(name, "Checks that fields were collected", "common", "validation"),
		fields:     fields,
	}
}

// Execute implements the Action interface
func (a *RequireFieldsAction) Execute(ctx *workflow.ActionContext) error {
	var missing []string
	for _, f := range a.fields {
		if _, ok := ctx.Value(f); !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing collected fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
