package workflow

import (
	"context"
	"time"
)

// FormRenderer asks the form subsystem to show a form. The returned handle
// identifies the rendered form; the response arrives later through
// Engine.SubmitStageResponse. Rendering must be idempotent per stage since a
// resumed instance renders its current form again.
type FormRenderer interface {
	RenderForm(ctx context.Context, spec FormSpec) (string, error)
}

// FormRendererFunc adapts a function to FormRenderer
type FormRendererFunc func(ctx context.Context, spec FormSpec) (string, error)

// RenderForm implements FormRenderer
func (f FormRendererFunc) RenderForm(ctx context.Context, spec FormSpec) (string, error) {
	return f(ctx, spec)
}

// ActionHandler runs the side effect of an action stage. Returning nil is
// the acknowledgement that lets the instance advance.
type ActionHandler interface {
	RunAction(ctx context.Context, req ActionRequest) error
}

// ActionHandlerFunc adapts a function to ActionHandler
type ActionHandlerFunc func(ctx context.Context, req ActionRequest) error

// RunAction implements ActionHandler
func (f ActionHandlerFunc) RunAction(ctx context.Context, req ActionRequest) error {
	return f(ctx, req)
}

// ActionRequest is what an action handler sees of its instance
type ActionRequest struct {
	InstanceID string
	WorkflowID string
	Stage      Stage
	Data       map[string]any
	Aggregated map[string]any
	Context    ConversationContext
}

// Sink durably stores terminal results. The engine calls Persist once per
// result and does not retry.
type Sink interface {
	Persist(ctx context.Context, result Result) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, result Result) error

// Persist implements Sink
func (f SinkFunc) Persist(ctx context.Context, result Result) error {
	return f(ctx, result)
}

// Approver gates modifications and picks branching paths. Either may be a
// person behind a UI or an autonomous policy.
type Approver interface {
	// RequestApproval reports whether mod may be applied.
	RequestApproval(ctx context.Context, mod Modification) (bool, error)

	// PresentChoice returns the chosen path id, or "" when no choice was
	// made yet and the decision should wait for ResolveDecision.
	PresentChoice(ctx context.Context, decision BranchingDecision) (string, error)
}

// Recorder receives engine measurements
type Recorder interface {
	InstanceStarted(ctx context.Context, workflowID string)
	InstanceFinished(ctx context.Context, workflowID string, status Status, elapsed time.Duration)
	StageEntered(ctx context.Context, workflowID string, kind StageKind)
	ModificationProposed(ctx context.Context, modType ModificationType, approved bool)
}

type nopRecorder struct{}

func (nopRecorder) InstanceStarted(context.Context, string) {}
func (nopRecorder) InstanceFinished(context.Context, string, Status, time.Duration) {}
func (nopRecorder) StageEntered(context.Context, string, StageKind) {}
func (nopRecorder) ModificationProposed(context.Context, ModificationType, bool) {}
