package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/value"
)

// Action is the work behind an action stage
type Action interface {
	// Name returns the action's name, matched against Stage.ActionName
	Name() string

	// Description returns a human-readable description of the action
	Description() string

	// Tags returns the action's tags for organization and filtering
	Tags() []string

	// Execute performs the action's work
	Execute(ctx *ActionContext) error
}

// ActionContext provides access to the instance an action runs for
type ActionContext struct {
	// Embedded Go context, cancelled when the instance pauses, is cancelled
	// or times out
	GoContext context.Context

	Request ActionRequest

	// Logger for output
	Logger Logger
}

// Value looks up a field in the data collected so far.
func (ctx *ActionContext) Value(field string) (any, bool) {
	v, kind := value.Lookup(ctx.Request.Data, field)
	return v, kind != value.Absent
}

// String returns the field rendered as a string, "" if absent.
func (ctx *ActionContext) String(field string) string {
	v, ok := ctx.Value(field)
	if !ok {
		return ""
	}
	return value.AsString(v)
}

// Number returns the numeric value of a field.
func (ctx *ActionContext) Number(field string) (float64, bool) {
	v, ok := ctx.Value(field)
	if !ok {
		return 0, false
	}
	return value.AsNumber(v)
}

// BaseAction provides a common implementation for simple actions
type BaseAction struct {
	name        string
	description string
	tags        []string
}

// NewBaseAction creates a new base action with the given name and description
func NewBaseAction(name, description string, tags ...string) BaseAction {
	return BaseAction{
		name:        name,
		description: description,
		tags:        tags,
	}
}

// Name returns the action name
func (a BaseAction) Name() string {
	return a.name
}

// Description returns the action description
func (a BaseAction) Description() string {
	return a.description
}

// Tags returns the action's tags
func (a BaseAction) Tags() []string {
	return a.tags
}

type funcAction struct {
	BaseAction
	fn func(*ActionContext) error
}

func (a *funcAction) Execute(ctx *ActionContext) error {
	return a.fn(ctx)
}

// NewActionFunc wraps fn as an Action
func NewActionFunc(name, description string, fn func(*ActionContext) error) Action {
	return &funcAction{BaseAction: NewBaseAction(name, description), fn: fn}
}

// ActionRegistry dispatches action stages to registered actions by name.
// It implements ActionHandler.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
	logger  Logger
}

// NewActionRegistry creates an empty registry
func NewActionRegistry(logger Logger) *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]Action),
		logger:  WithPrefix(logger, "actions"),
	}
}

// Register adds actions. Names are unique.
func (r *ActionRegistry) Register(actions ...Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		if a.Name() == "" {
			return errors.New(errors.ErrInvalidInput, "action name is required")
		}
		if _, exists := r.actions[a.Name()]; exists {
			return errors.Newf(errors.ErrInvalidInput, "action %s is already registered", a.Name())
		}
		r.actions[a.Name()] = a
	}
	return nil
}

// Get returns the action registered under name
func (r *ActionRegistry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names lists the registered action names in order
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAction implements ActionHandler
func (r *ActionRegistry) RunAction(ctx context.Context, req ActionRequest) error {
	name := req.Stage.ActionName()
	a, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("no action registered as %s", name)
	}

	r.logger.Debug("Running action %s for stage %s of %s", name, req.Stage.ID, req.InstanceID)
	err := a.Execute(&ActionContext{
		GoContext: ctx,
		Request:   req,
		Logger:    r.logger,
	})
	if err != nil {
		r.logger.Error("Action %s failed: %v", name, err)
	}
	return err
}
