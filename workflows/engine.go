package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/aggregate"
	"github.com/davidroman0O/stageflow/workflows/condition"
	"github.com/davidroman0O/stageflow/workflows/value"
)

// DefaultMaxHops bounds the synchronous stage transitions of one advance,
// which stops decision stages that route in a cycle.
const DefaultMaxHops = 100

// Engine drives workflow instances through their stages. Calls against one
// instance are serialized on that instance; different instances run
// independently.
type Engine struct {
	registry  *Registry
	instances *instanceTable
	hub       *hub
	broker    *Broker
	analytics *Analytics

	renderer FormRenderer
	actions  ActionHandler
	sink     Sink
	approver Approver
	recorder Recorder
	logger   Logger

	stageTimeout time.Duration
	maxHops      int
	now          func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithFormRenderer sets the form subsystem
func WithFormRenderer(r FormRenderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithActionHandler sets the handler run by action stages
func WithActionHandler(h ActionHandler) Option {
	return func(e *Engine) { e.actions = h }
}

// WithSink sets where terminal results are persisted
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithApprover sets the approval channel for modifications and decisions
func WithApprover(a Approver) Option {
	return func(e *Engine) { e.approver = a }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStageTimeout fails instances whose form or action stage stays
// suspended longer than d. Zero disables the timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stageTimeout = d }
}

// WithMaxHops overrides DefaultMaxHops
func WithMaxHops(n int) Option {
	return func(e *Engine) { e.maxHops = n }
}

// WithBottleneckThreshold overrides DefaultBottleneckThreshold
func WithBottleneckThreshold(d time.Duration) Option {
	return func(e *Engine) { e.analytics.threshold = d }
}

// StartOption configures a single StartWorkflow call
type StartOption func(*instanceState)

// WithCompletion registers a callback invoked once with the terminal result.
// It is not invoked for cancelled instances.
func WithCompletion(fn func(Result)) StartOption {
	return func(inst *instanceState) { inst.onComplete = fn }
}

// NewEngine creates an engine over the definitions of registry
func NewEngine(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		instances: newInstanceTable(),
		hub:       newHub(),
		analytics: NewAnalytics(DefaultBottleneckThreshold),
		recorder:  nopRecorder{},
		logger:    NewDefaultLogger(),
		maxHops:   DefaultMaxHops,
		now:       time.Now,
	}
	e.broker = &Broker{engine: e, decisions: make(map[string]*BranchingDecision)}
	for _, opt := range opts {
		opt(e)
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	e.logger = WithPrefix(e.logger, "engine")
	if e.maxHops <= 0 {
		e.maxHops = DefaultMaxHops
	}
	return e
}

// Registry returns the definition registry
func (e *Engine) Registry() *Registry { return e.registry }

// Broker returns the branching decision broker
func (e *Engine) Broker() *Broker { return e.broker }

// Analytics returns the interaction analytics
func (e *Engine) Analytics() *Analytics { return e.analytics }

// effects are collected while an instance is locked and run after it is
// released: external calls, goroutine launches, events and callbacks.
type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

func (e *Engine) flush(fx effects) {
	for _, f := range fx {
		f()
	}
}

func (e *Engine) emit(fx *effects, inst *instanceState, typ EventType, stageID string, data map[string]any) {
	ev := Event{
		Type:       typ,
		InstanceID: inst.id,
		WorkflowID: inst.workflowID,
		StageID:    stageID,
		Time:       e.now(),
		Data:       data,
	}
	fx.add(func() { e.hub.publish(ev) })
}

// StartWorkflow creates an instance of a registered definition at its first
// stage and executes that stage before returning the instance id.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, convo ConversationContext, opts ...StartOption) (string, error) {
	def, err := e.registry.GetWorkflow(workflowID)
	if err != nil {
		return "", errors.WithOp(err, "StartWorkflow")
	}

	inst := newInstanceState("workflow-"+uuid.NewString(), def, convo, e.now())
	for _, opt := range opts {
		opt(inst)
	}

	inst.mu.Lock()
	e.instances.put(inst)
	e.hub.open(inst.id)
	inst.status = StatusActive

	var fx effects
	e.logger.Info("Starting workflow %s as %s", def.ID, inst.id)
	e.recorder.InstanceStarted(ctx, def.ID)
	e.emit(&fx, inst, EventStarted, "", nil)
	e.enter(ctx, inst, def.Stages[0].ID, &fx)
	inst.mu.Unlock()

	e.flush(fx)
	return inst.id, nil
}

// SubmitStageResponse stores a form response for the instance's current
// stage and advances the instance.
func (e *Engine) SubmitStageResponse(ctx context.Context, instanceID, stageID string, data map[string]any) error {
	inst, err := e.instances.lock(instanceID)
	if err != nil {
		return errors.WithOp(err, "SubmitStageResponse")
	}

	var fx effects
	err = e.submit(ctx, inst, stageID, data, &fx)
	inst.mu.Unlock()

	e.flush(fx)
	return errors.WithOp(err, "SubmitStageResponse")
}

func (e *Engine) submit(ctx context.Context, inst *instanceState, stageID string, data map[string]any, fx *effects) error {
	if inst.status != StatusActive {
		return errors.Newf(errors.ErrInvalidState, "workflow instance %s is %s", inst.id, inst.status)
	}
	if inst.pendingDecision != "" {
		return errors.Newf(errors.ErrInvalidState, "workflow instance %s is waiting on decision %s", inst.id, inst.pendingDecision)
	}

	stage, ok := inst.stage(stageID)
	if !ok {
		return errors.Newf(errors.ErrStageNotFound, "stage not found: %s", stageID)
	}
	if stage.ID != inst.currentStageID {
		return errors.Newf(errors.ErrStageNotFound, "stage %s is not awaiting a response (current stage is %s)", stageID, inst.currentStageID)
	}
	if stage.Kind != KindForm {
		return errors.Newf(errors.ErrInvalidState, "stage %s is a %s stage and takes no response", stageID, stage.Kind)
	}

	if stage.FormSpec != nil {
		if missing := missingFields(stage.FormSpec.RequiredFields(), data); len(missing) > 0 {
			return errors.WithContext(
				errors.Newf(errors.ErrValidation, "missing required fields: %v", missing),
				map[string]interface{}{"stage": stageID, "fields": missing},
			)
		}
	}

	now := e.now()
	inst.writeStageData(stageID, data)
	inst.lastActivity = now
	e.analytics.RecordEvent(inst.id, stageID, InteractionFormCompletion, now.Sub(inst.enteredAt).Milliseconds())
	inst.markStage(stageID, StageStatusCompleted, false)
	e.emit(fx, inst, EventStageCompleted, stageID, copyMap(data))

	e.enter(ctx, inst, nextStage(stage, data), fx)
	return nil
}

func missingFields(required []string, data map[string]any) []string {
	var missing []string
	for _, f := range required {
		v, kind := value.Lookup(data, f)
		if kind == value.Absent || (kind == value.String && v.(string) == "") {
			missing = append(missing, f)
		}
	}
	return missing
}

// nextStage picks the first matching condition's target, falling back to
// the first successor. "" means the workflow ends, including for a matched
// condition whose target was removed.
func nextStage(stage Stage, data map[string]any) string {
	if c, ok := condition.First(stage.Conditions, data); ok {
		return c.NextStageID
	}
	return firstOf(stage.NextStageIDs)
}

func firstOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// enter moves the instance to stageID and keeps executing synchronous
// stages until one suspends or the workflow ends. inst.mu must be held.
func (e *Engine) enter(ctx context.Context, inst *instanceState, stageID string, fx *effects) {
	for hops := 0; ; hops++ {
		if stageID == "" {
			e.finish(ctx, inst, nil, fx)
			return
		}
		if hops >= e.maxHops {
			e.finish(ctx, inst, errors.Newf(errors.ErrInvalidState, "more than %d synchronous stage transitions from %s", e.maxHops, inst.currentStageID), fx)
			return
		}
		stage, ok := inst.stage(stageID)
		if !ok {
			e.finish(ctx, inst, errors.Newf(errors.ErrStageNotFound, "stage not found: %s", stageID), fx)
			return
		}

		inst.stopTimer()
		inst.visit++
		inst.currentStageID = stage.ID
		inst.enteredAt = e.now()
		inst.lastActivity = inst.enteredAt
		inst.markStage(stage.ID, StageStatusRunning, true)
		e.recorder.StageEntered(ctx, inst.workflowID, stage.Kind)
		e.logger.Debug("Instance %s entered %s stage %s", inst.id, stage.Kind, stage.ID)
		e.emit(fx, inst, EventStageEntered, stage.ID, nil)

		next, suspended, err := e.executeStage(ctx, inst, stage, fx)
		if err != nil {
			e.finish(ctx, inst, err, fx)
			return
		}
		if suspended {
			return
		}

		inst.markStage(stage.ID, StageStatusCompleted, false)
		e.emit(fx, inst, EventStageCompleted, stage.ID, nil)
		stageID = next
	}
}

// executeStage dispatches on the stage kind. Synchronous kinds return the
// next stage id; form and action stages and pending decisions suspend.
func (e *Engine) executeStage(ctx context.Context, inst *instanceState, stage Stage, fx *effects) (next string, suspended bool, err error) {
	switch stage.Kind {
	case KindForm:
		if stage.FormSpec != nil {
			spec := stage.FormSpec.decorate(inst.stepNumber(stage.ID), inst.workflowID)
			instanceID, visit := inst.id, inst.visit
			fx.add(func() { e.renderForm(ctx, instanceID, visit, stage.ID, spec) })
		} else {
			e.logger.Warn("Form stage %s of %s has no form spec; waiting for a response", stage.ID, inst.workflowID)
		}
		e.armTimer(inst, stage.ID)
		return "", true, nil

	case KindAction:
		req := ActionRequest{
			InstanceID: inst.id,
			WorkflowID: inst.workflowID,
			Stage:      stage,
			Data:       inst.collected(),
			Aggregated: copyMap(inst.aggregated),
			Context:    inst.context,
		}
		actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		inst.cancelAction = cancel
		visit := inst.visit
		fx.add(func() { go e.runAction(actx, inst.id, visit, req) })
		e.armTimer(inst, stage.ID)
		return "", true, nil

	case KindDecision:
		if stage.IsBranching() {
			d := e.broker.create(inst, stage.ID, stage.Paths, stage.AutoDecide, e.now())
			e.emit(fx, inst, EventDecisionPending, stage.ID, map[string]any{"decisionId": d.ID})
			if d.AutoDecide {
				path := SelectPath(d)
				return e.takeDecision(inst, d, path, fx), false, nil
			}
			e.presentLater(ctx, d.ID, fx)
			return "", true, nil
		}
		return nextStage(stage, inst.collected()), false, nil

	case KindAggregation:
		data := inst.collected()
		for _, rule := range stage.AggregationRules {
			inst.aggregated[rule.TargetField] = aggregate.Apply(rule, data)
		}
		return firstOf(stage.NextStageIDs), false, nil
	}

	return "", false, errors.Newf(errors.ErrInvalidInput, "stage %s has unknown kind %q", stage.ID, stage.Kind)
}

func (e *Engine) armTimer(inst *instanceState, stageID string) {
	if e.stageTimeout <= 0 {
		return
	}
	instanceID, visit := inst.id, inst.visit
	inst.timer = time.AfterFunc(e.stageTimeout, func() { e.expire(instanceID, visit, stageID) })
}

func (e *Engine) expire(instanceID string, visit uint64, stageID string) {
	inst, err := e.instances.lock(instanceID)
	if err != nil {
		return
	}
	var fx effects
	if inst.visit == visit && inst.status == StatusActive {
		inst.timer = nil
		e.logger.Warn("Stage %s of %s timed out", stageID, instanceID)
		e.finish(context.Background(), inst, errors.Newf(errors.ErrTimeout, "stage %s timed out after %s", stageID, e.stageTimeout), &fx)
	}
	inst.mu.Unlock()
	e.flush(fx)
}

// renderForm runs outside the instance lock; the handle is only recorded if
// the instance is still on the same visit.
func (e *Engine) renderForm(ctx context.Context, instanceID string, visit uint64, stageID string, spec FormSpec) {
	if e.renderer == nil {
		e.logger.Warn("No form renderer configured; form %s of %s was not rendered", spec.ID, instanceID)
		return
	}

	var handle string
	renderErr := protect(func() error {
		var err error
		handle, err = e.renderer.RenderForm(ctx, spec)
		return err
	})

	inst, err := e.instances.lock(instanceID)
	if err != nil {
		return
	}
	var fx effects
	switch {
	case inst.visit != visit:
		e.logger.Debug("Dropping form handle for %s: instance moved on", stageID)
	case renderErr != nil:
		e.finish(ctx, inst, errors.WithContext(
			errors.Wrap(renderErr, errors.ErrExternalHandlerFailure, "render form for stage "+stageID),
			map[string]interface{}{"stage": stageID},
		), &fx)
	default:
		inst.writeStageData(stageID+formHandleSuffix, map[string]any{"formHandle": handle})
	}
	inst.mu.Unlock()
	e.flush(fx)
}

func (e *Engine) runAction(ctx context.Context, instanceID string, visit uint64, req ActionRequest) {
	err := protect(func() error {
		if e.actions == nil {
			return fmt.Errorf("no action handler configured for %s", req.Stage.ActionName())
		}
		return e.actions.RunAction(ctx, req)
	})

	inst, lerr := e.instances.lock(instanceID)
	if lerr != nil {
		e.logger.Debug("Dropping acknowledgement of %s: %v", req.Stage.ID, lerr)
		return
	}
	var fx effects
	if inst.visit == visit && inst.status == StatusActive {
		inst.stopTimer()
		if err != nil {
			e.finish(ctx, inst, errors.WithContext(
				errors.Wrap(err, errors.ErrExternalHandlerFailure, "action "+req.Stage.ActionName()),
				map[string]interface{}{"stage": req.Stage.ID},
			), &fx)
		} else {
			now := e.now()
			e.analytics.RecordEvent(inst.id, req.Stage.ID, InteractionActionCompletion, now.Sub(inst.enteredAt).Milliseconds())
			inst.markStage(req.Stage.ID, StageStatusCompleted, false)
			e.emit(&fx, inst, EventStageCompleted, req.Stage.ID, nil)
			e.enter(context.WithoutCancel(ctx), inst, firstOf(req.Stage.NextStageIDs), &fx)
		}
	} else {
		e.logger.Debug("Dropping stale acknowledgement of %s for %s", req.Stage.ID, instanceID)
	}
	inst.mu.Unlock()
	e.flush(fx)
}

// finish moves the instance to its terminal state, removes it from the live
// table and queues the result for the sink, the callback and subscribers.
func (e *Engine) finish(ctx context.Context, inst *instanceState, cause error, fx *effects) {
	inst.stopTimer()
	now := e.now()

	res := Result{
		WorkflowID:     inst.workflowID,
		InstanceID:     inst.id,
		StageResults:   make(map[string]map[string]any, len(inst.stageData)),
		CompletionTime: now,
	}
	for k, v := range inst.stageData {
		res.StageResults[k] = copyMap(v)
	}

	evType := EventCompleted
	if cause == nil {
		inst.status = StatusCompleted
		res.Success = true
		res.AggregatedData = copyMap(inst.aggregated)
		for k, v := range inst.collected() {
			res.AggregatedData[k] = v
		}
		res.NextActions = append([]string(nil), defaultNextActions...)
		e.logger.Info("Workflow %s (%s) completed after %d stages", inst.workflowID, inst.id, len(inst.completedStages()))
	} else {
		inst.status = StatusFailed
		res.AggregatedData = copyMap(inst.aggregated)
		res.Error = cause.Error()
		evType = EventFailed
		e.logger.Error("Workflow %s (%s) failed: %v", inst.workflowID, inst.id, cause)
	}

	inst.lastActivity = now
	inst.gone = true
	e.instances.remove(inst.id)
	e.broker.discard(inst.id)
	e.recorder.InstanceFinished(ctx, inst.workflowID, inst.status, now.Sub(inst.startedAt))

	callback := inst.onComplete
	inst.onComplete = nil
	stageID := inst.currentStageID
	instanceID, workflowID := inst.id, inst.workflowID

	fx.add(func() {
		if callback != nil {
			callback(res)
		}
		if e.sink != nil {
			if err := protect(func() error { return e.sink.Persist(context.WithoutCancel(ctx), res) }); err != nil {
				e.logger.Error("Failed to persist result of %s: %v", instanceID, err)
			}
		}
		e.hub.settle(instanceID, outcome{result: res, err: cause})
		r := res
		e.hub.publish(Event{
			Type:       evType,
			InstanceID: instanceID,
			WorkflowID: workflowID,
			StageID:    stageID,
			Time:       now,
			Result:     &r,
			Err:        cause,
		})
	})
}

// PauseWorkflow pauses an active instance. It reports false for any other
// state or an unknown id.
func (e *Engine) PauseWorkflow(instanceID string) bool {
	inst, err := e.instances.lock(instanceID)
	if err != nil {
		return false
	}
	var fx effects
	ok := inst.status == StatusActive
	if ok {
		inst.status = StatusPaused
		inst.visit++
		inst.stopTimer()
		inst.lastActivity = e.now()
		e.logger.Info("Paused %s at %s", instanceID, inst.currentStageID)
		e.emit(&fx, inst, EventPaused, inst.currentStageID, nil)
	}
	inst.mu.Unlock()
	e.flush(fx)
	return ok
}

// ResumeWorkflow re-activates a paused instance and executes its current
// stage again, which renders a form stage a second time.
func (e *Engine) ResumeWorkflow(ctx context.Context, instanceID string) bool {
	inst, err := e.instances.lock(instanceID)
	if err != nil {
		return false
	}
	var fx effects
	ok := inst.status == StatusPaused
	if ok {
		inst.status = StatusActive
		inst.lastActivity = e.now()
		e.logger.Info("Resumed %s at %s", instanceID, inst.currentStageID)
		e.emit(&fx, inst, EventResumed, inst.currentStageID, nil)
		if inst.pendingDecision != "" {
			e.presentLater(ctx, inst.pendingDecision, &fx)
		} else {
			e.enter(ctx, inst, inst.currentStageID, &fx)
		}
	}
	inst.mu.Unlock()
	e.flush(fx)
	return ok
}

// CancelWorkflow fails a live instance without producing a result. The
// completion callback is dropped; Await reports ErrCancelled.
func (e *Engine) CancelWorkflow(instanceID string) bool {
	inst, err := e.instances.lock(instanceID)
	if err != nil {
		return false
	}

	inst.stopTimer()
	inst.status = StatusFailed
	inst.lastActivity = e.now()
	inst.gone = true
	inst.onComplete = nil
	e.instances.remove(instanceID)
	e.broker.discard(instanceID)
	e.recorder.InstanceFinished(context.Background(), inst.workflowID, StatusFailed, inst.lastActivity.Sub(inst.startedAt))
	e.logger.Info("Cancelled %s at %s", instanceID, inst.currentStageID)

	var fx effects
	cancelled := errors.Newf(errors.ErrCancelled, "workflow instance %s was cancelled", instanceID)
	fx.add(func() { e.hub.settle(instanceID, outcome{err: cancelled}) })
	e.emit(&fx, inst, EventCancelled, inst.currentStageID, nil)
	inst.mu.Unlock()

	e.flush(fx)
	return true
}

// protect turns a panicking collaborator into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
