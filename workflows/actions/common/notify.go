package common

import (
	"context"
	"fmt"
	"sort"
	"strings"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

// Notification is what a NotifyAction hands to its notifier
type Notification struct {
	InstanceID string
	WorkflowID string
	StageID    string
	Message    string
	Fields     map[string]string
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// NotifyAction reports selected fields of the collected data
type NotifyAction struct {
	workflow.BaseAction
	message  string
	fields   []string
	notifier Notifier
}

// NewNotifyAction creates an action that sends message with the listed
// fields. A nil notifier writes the notification to the action logger.
func NewNotifyAction(name, message string, notifier Notifier, fields ...string) *NotifyAction {
	return &NotifyAction{
		BaseAction: workflow.NewBaseAction(name, message, "common", "notify"),
		message:    message,
		fields:     fields,
		notifier:   notifier,
	}
}

// Execute implements the Action interface
func (a *NotifyAction) Execute(ctx *workflow.ActionContext) error {
	n := Notification{
		InstanceID: ctx.Request.InstanceID,
		WorkflowID: ctx.Request.WorkflowID,
		StageID:    ctx.Request.Stage.ID,
		Message:    a.message,
		Fields:     make(map[string]string, len(a.fields)),
	}
	for _, f := range a.fields {
		if v, ok := ctx.Value(f); ok {
			n.Fields[f] = fmt.Sprint(v)
		}
	}

	if a.notifier == nil {
		ctx.Logger.Warn("%s (%s): %s", n.Message, n.InstanceID, formatFields(n.Fields))
		return nil
	}
	return a.notifier.Notify(ctx.GoContext, n)
}

func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + fields[k]
	}
	return strings.Join(parts, ", ")
}
