// Package common provides generic actions that can be used across different workflows
package common

import (
	"fmt"
	"time"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

// WaitAction is a generic action to wait for a specified time
type WaitAction struct {
	workflow.BaseAction
	delay time.Duration
	field string
}

// NewWaitAction creates a new wait action with a fixed delay
func NewWaitAction(name string, delay time.Duration) *WaitAction {
	return &WaitAction{
		BaseAction: workflow.NewBaseAction(name, "Waits for a fixed delay", "common"),
		delay:      delay,
	}
}

// NewWaitFromField creates a wait action reading the number of seconds from
// a field of the collected data.
func NewWaitFromField(name, field string) *WaitAction {
	return &WaitAction{
		BaseAction: workflow.NewBaseAction(name, fmt.Sprintf("Waits for the number of seconds in %s", field), "common"),
		field:      field,
	}
}

// Execute implements the Action interface
func (a *WaitAction) Execute(ctx *workflow.ActionContext) error {
	delay := a.delay
	if a.field != "" {
		secs, ok := ctx.Number(a.field)
		if !ok || secs < 0 {
			return fmt.Errorf("field %s must hold a non-negative number of seconds", a.field)
		}
		delay = time.Duration(secs * float64(time.Second))
	}

	ctx.Logger.Info("Waiting for %s", delay)
	select {
	case <-ctx.GoContext.Done():
		return ctx.GoContext.Err()
	case <-time.After(delay):
		return nil
	}
}
