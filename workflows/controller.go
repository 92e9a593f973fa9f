package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/condition"
	"github.com/davidroman0O/stageflow/workflows/store"
)

// ModificationType is the kind of change a modification makes
type ModificationType string

const (
	ModAddStage       ModificationType = "addStage"
	ModModifyStage    ModificationType = "modifyStage"
	ModRemoveStage    ModificationType = "removeStage"
	ModChangeFlow     ModificationType = "changeFlow"
	ModInjectDecision ModificationType = "injectDecision"
)

// Valid reports whether t is a known modification type
func (t ModificationType) Valid() bool {
	switch t {
	case ModAddStage, ModModifyStage, ModRemoveStage, ModChangeFlow, ModInjectDecision:
		return true
	}
	return false
}

// Modification is a proposed change to one running instance. It only ever
// touches that instance's private copy of the stage graph.
type Modification struct {
	ID         string           `json:"id"`
	InstanceID string           `json:"instanceId"`
	Type       ModificationType `json:"type"`

	// TargetStageID names the stage to change. For addStage it is optional
	// and names the stage the new one is spliced after.
	TargetStageID string `json:"targetStageId,omitempty"`

	NewStage *Stage `json:"newStage,omitempty"`

	// FieldChanges maps JSON field paths of Stage ("name",
	// "formSpec.title") to new values. changeFlow reads "nextStageIds".
	FieldChanges map[string]any `json:"fieldChanges,omitempty"`

	// Paths and AutoDecide describe an injected decision.
	Paths      []BranchingPath `json:"paths,omitempty"`
	AutoDecide bool            `json:"autoDecide,omitempty"`

	Reason     string              `json:"reason"`
	ProposedBy string              `json:"proposedBy,omitempty"`
	AIContext  ConversationContext `json:"aiContext,omitempty"`
	ProposedAt time.Time           `json:"proposedAt"`
}

// ModificationRecord is one entry of the per-instance audit log
type ModificationRecord struct {
	Modification
	Approved  bool      `json:"approved"`
	Applied   bool      `json:"applied"`
	Error     string    `json:"error,omitempty"`
	DecidedAt time.Time `json:"decidedAt"`
}

// ConditionalForm renders an extra form when its expression matches the
// data of an instance.
type ConditionalForm struct {
	TriggerID    string               `json:"triggerId"`
	Condition    condition.Expression `json:"condition"`
	FormTemplate FormSpec             `json:"formTemplate"`

	// Priority high makes the trigger fire at most once.
	Priority Priority            `json:"priority"`
	Context  ConversationContext `json:"context,omitempty"`
}

// Controller applies approved modifications to running instances and keeps
// their audit log.
type Controller struct {
	engine *Engine
	logger Logger

	mu    sync.Mutex
	log   map[string][]ModificationRecord
	forms map[string]ConditionalForm
	order []string
}

// NewController creates a controller over the instances of e
func NewController(e *Engine) *Controller {
	return &Controller{
		engine: e,
		logger: WithPrefix(e.logger, "controller"),
		log:    make(map[string][]ModificationRecord),
		forms:  make(map[string]ConditionalForm),
	}
}

// ProposeModification asks the approval channel for mod and applies it to
// the instance when approved. Declined proposals return false with a nil
// error. Every proposal on a known instance is logged, whatever its
// outcome.
func (c *Controller) ProposeModification(ctx context.Context, mod Modification) (bool, error) {
	e := c.engine
	if !e.instances.has(mod.InstanceID) {
		return false, errors.WithOp(errors.Newf(errors.ErrInstanceNotFound, "workflow instance not found: %s", mod.InstanceID), "ProposeModification")
	}
	if mod.ID == "" {
		mod.ID = "mod-" + uuid.NewString()
	}
	if mod.ProposedAt.IsZero() {
		mod.ProposedAt = e.now()
	}
	rec := ModificationRecord{Modification: mod}

	if err := checkModification(mod); err != nil {
		return false, c.reject(ctx, rec, err)
	}

	if e.approver == nil {
		c.logger.Info("No approver configured; declining %s on %s", mod.Type, mod.InstanceID)
		c.record(ctx, rec)
		return false, nil
	}

	var approved bool
	err := protect(func() error {
		var aerr error
		approved, aerr = e.approver.RequestApproval(ctx, mod)
		return aerr
	})
	if err != nil {
		return false, c.reject(ctx, rec, errors.Wrap(err, errors.ErrExternalHandlerFailure, "request approval"))
	}
	if !approved {
		c.logger.Info("Modification %s (%s) on %s declined", mod.ID, mod.Type, mod.InstanceID)
		c.record(ctx, rec)
		return false, nil
	}
	rec.Approved = true

	inst, err := e.instances.lock(mod.InstanceID)
	if err != nil {
		return false, c.reject(ctx, rec, err)
	}
	var fx effects
	err = c.apply(ctx, inst, mod, &fx)
	if err == nil {
		e.emit(&fx, inst, EventModification, inst.currentStageID, map[string]any{
			"modificationId": mod.ID,
			"type":           string(mod.Type),
			"targetStageId":  mod.TargetStageID,
			"reason":         mod.Reason,
		})
		target := mod.TargetStageID
		if target == "" {
			target = inst.currentStageID
		}
		e.analytics.RecordEvent(inst.id, target, InteractionModification, 0)
	}
	inst.mu.Unlock()

	if err != nil {
		return false, c.reject(ctx, rec, err)
	}
	rec.Applied = true
	c.logger.Info("Applied %s %s to %s: %s", mod.Type, mod.ID, mod.InstanceID, mod.Reason)
	c.record(ctx, rec)
	e.flush(fx)
	return true, nil
}

func (c *Controller) reject(ctx context.Context, rec ModificationRecord, err error) error {
	if errors.GetCode(err) == errors.ErrUnknown {
		err = errors.Wrap(err, errors.ErrInvalidModification, string(rec.Type))
	}
	rec.Error = err.Error()
	c.logger.Warn("Modification %s (%s) on %s not applied: %v", rec.ID, rec.Type, rec.InstanceID, err)
	c.record(ctx, rec)
	return errors.WithOp(err, "ProposeModification")
}

func (c *Controller) record(ctx context.Context, rec ModificationRecord) {
	rec.DecidedAt = c.engine.now()
	c.mu.Lock()
	c.log[rec.InstanceID] = append(c.log[rec.InstanceID], rec)
	c.mu.Unlock()
	c.engine.recorder.ModificationProposed(ctx, rec.Type, rec.Approved)
}

// checkModification verifies that mod carries what its type requires.
func checkModification(mod Modification) error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrInvalidModification, format, args...)
	}
	switch mod.Type {
	case ModAddStage:
		if mod.NewStage == nil {
			return invalid("addStage requires a new stage")
		}
	case ModModifyStage:
		if mod.TargetStageID == "" || len(mod.FieldChanges) == 0 {
			return invalid("modifyStage requires a target stage and field changes")
		}
	case ModRemoveStage:
		if mod.TargetStageID == "" {
			return invalid("removeStage requires a target stage")
		}
	case ModChangeFlow:
		if mod.TargetStageID == "" {
			return invalid("changeFlow requires a target stage")
		}
		if _, ok := mod.FieldChanges["nextStageIds"]; !ok {
			return invalid("changeFlow requires fieldChanges.nextStageIds")
		}
	case ModInjectDecision:
		if len(mod.Paths) == 0 {
			return invalid("injectDecision requires at least one path")
		}
	default:
		return invalid("unknown modification type %q", mod.Type)
	}
	return nil
}

// apply changes the instance's private stage graph. inst.mu must be held.
// Nothing is changed when an error is returned.
func (c *Controller) apply(ctx context.Context, inst *instanceState, mod Modification, fx *effects) error {
	switch mod.Type {
	case ModAddStage:
		return c.addStage(inst, mod)
	case ModModifyStage:
		return c.modifyStage(inst, mod)
	case ModRemoveStage:
		return c.removeStage(inst, mod)
	case ModChangeFlow:
		return c.changeFlow(inst, mod)
	case ModInjectDecision:
		return c.injectDecision(ctx, inst, mod, fx)
	}
	return errors.Newf(errors.ErrInvalidModification, "unknown modification type %q", mod.Type)
}

func invalidMod(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrInvalidModification, format, args...)
}

// checkRefs verifies that every stage s routes to exists in the instance,
// with pending counting as existing.
func checkRefs(inst *instanceState, s Stage, pending string) error {
	for _, ref := range s.References() {
		if ref == pending {
			continue
		}
		if _, ok := inst.stage(ref); !ok {
			return invalidMod("stage %s references unknown stage %s", s.ID, ref)
		}
	}
	return nil
}

func (c *Controller) addStage(inst *instanceState, mod Modification) error {
	s := *mod.NewStage
	if err := s.validate(); err != nil {
		return errors.Wrap(err, errors.ErrInvalidModification, "new stage")
	}
	if _, exists := inst.stage(s.ID); exists {
		return invalidMod("stage %s already exists", s.ID)
	}
	if inst.removed[s.ID] {
		return invalidMod("stage id %s was removed from this instance", s.ID)
	}

	var target Stage
	if mod.TargetStageID != "" {
		var ok bool
		if target, ok = inst.stage(mod.TargetStageID); !ok {
			return invalidMod("target stage not found: %s", mod.TargetStageID)
		}
		if len(s.NextStageIDs) == 0 {
			s.NextStageIDs = append([]string(nil), target.NextStageIDs...)
		}
	}
	if err := checkRefs(inst, s, s.ID); err != nil {
		return err
	}

	if err := inst.putOverride(s, mod.ID); err != nil {
		return err
	}
	inst.appended = append(inst.appended, s.ID)
	inst.markStage(s.ID, StageStatusPending, false)

	if target.ID != "" {
		target.NextStageIDs = []string{s.ID}
		if err := inst.putOverride(target, mod.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) modifyStage(inst *instanceState, mod Modification) error {
	old, ok := inst.stage(mod.TargetStageID)
	if !ok {
		return invalidMod("target stage not found: %s", mod.TargetStageID)
	}
	changes, err := stageFieldChanges(mod.FieldChanges)
	if err != nil {
		return invalidMod("%v", err)
	}

	key := PrefixStage + old.ID
	hadOverride := inst.overrides != nil && inst.overrides.Has(key)
	restore := func() {
		if hadOverride {
			_ = inst.overrides.Put(key, old)
		} else {
			inst.overrides.Delete(key)
		}
	}

	if err := inst.putOverride(old, mod.ID); err != nil {
		return err
	}
	if err := inst.overrides.UpdateFields(key, changes); err != nil {
		restore()
		return invalidMod("modify %s: %v", old.ID, err)
	}
	updated, err := store.Get[Stage](inst.overrides, key)
	if err == nil {
		err = updated.validate()
	}
	if err == nil {
		err = checkRefs(inst, updated, updated.ID)
	}
	if err != nil {
		restore()
		return errors.Wrap(err, errors.ErrInvalidModification, "modify "+old.ID)
	}
	return nil
}

// removeStage drops a stage and repoints everything that routed to it at
// the removed stage's own successors.
func (c *Controller) removeStage(inst *instanceState, mod Modification) error {
	gone, ok := inst.stage(mod.TargetStageID)
	if !ok {
		return invalidMod("target stage not found: %s", mod.TargetStageID)
	}
	if gone.ID == inst.currentStageID {
		return invalidMod("stage %s is the current stage", gone.ID)
	}
	if len(inst.stageIDs()) == 1 {
		return invalidMod("stage %s is the only stage", gone.ID)
	}

	var successors []string
	for _, id := range gone.NextStageIDs {
		if id != gone.ID {
			successors = append(successors, id)
		}
	}
	// A removed fallback with no successor of its own ends the workflow
	// rather than promoting the next entry.
	repoint := func(ids []string) ([]string, bool) {
		if len(ids) > 0 && ids[0] == gone.ID && len(successors) == 0 {
			return nil, true
		}
		var out []string
		changed := false
		for _, id := range ids {
			if id == gone.ID {
				changed = true
				out = appendUnique(out, successors...)
				continue
			}
			out = appendUnique(out, id)
		}
		return out, changed
	}

	var rewired []Stage
	for _, s := range inst.stages() {
		if s.ID == gone.ID {
			continue
		}
		var changed bool
		s.NextStageIDs, changed = repoint(s.NextStageIDs)

		conds := make([]condition.Condition, 0, len(s.Conditions))
		for _, cond := range s.Conditions {
			if cond.NextStageID == gone.ID {
				// an empty target ends the workflow when the condition matches
				changed = true
				cond.NextStageID = firstOf(successors)
			}
			conds = append(conds, cond)
		}
		s.Conditions = conds

		paths := make([]BranchingPath, len(s.Paths))
		for i, p := range s.Paths {
			var pc bool
			p.NextStageIDs, pc = repoint(p.NextStageIDs)
			changed = changed || pc
			paths[i] = p
		}
		s.Paths = paths

		if changed {
			rewired = append(rewired, s)
		}
	}

	for _, s := range rewired {
		if err := inst.putOverride(s, mod.ID); err != nil {
			return err
		}
	}
	if inst.overrides != nil {
		inst.overrides.Delete(PrefixStage + gone.ID)
	}
	inst.removed[gone.ID] = true
	return nil
}

func appendUnique(ids []string, more ...string) []string {
	for _, m := range more {
		dup := false
		for _, id := range ids {
			if id == m {
				dup = true
				break
			}
		}
		if !dup {
			ids = append(ids, m)
		}
	}
	return ids
}

func (c *Controller) changeFlow(inst *instanceState, mod Modification) error {
	s, ok := inst.stage(mod.TargetStageID)
	if !ok {
		return invalidMod("target stage not found: %s", mod.TargetStageID)
	}
	next, err := coerce(mod.FieldChanges["nextStageIds"], typeOfStrings)
	if err != nil {
		return invalidMod("nextStageIds: %v", err)
	}
	s.NextStageIDs = next.([]string)
	if err := checkRefs(inst, s, s.ID); err != nil {
		return err
	}
	return inst.putOverride(s, mod.ID)
}

// injectDecision blocks the instance on a new branching decision at its
// current stage. The stage's pending render or action is superseded.
func (c *Controller) injectDecision(ctx context.Context, inst *instanceState, mod Modification, fx *effects) error {
	if inst.pendingDecision != "" {
		return invalidMod("instance %s is already waiting on decision %s", inst.id, inst.pendingDecision)
	}
	probe := Stage{ID: inst.currentStageID, Kind: KindDecision, Paths: mod.Paths}
	if err := probe.validate(); err != nil {
		return errors.Wrap(err, errors.ErrInvalidModification, "inject decision")
	}
	if err := checkRefs(inst, probe, ""); err != nil {
		return err
	}

	e := c.engine
	inst.stopTimer()
	inst.visit++
	d := e.broker.create(inst, inst.currentStageID, mod.Paths, mod.AutoDecide, e.now())
	e.emit(fx, inst, EventDecisionPending, inst.currentStageID, map[string]any{
		"decisionId":     d.ID,
		"modificationId": mod.ID,
	})

	// a paused instance is offered the decision on resume
	if inst.status != StatusActive {
		return nil
	}
	if d.AutoDecide {
		next := e.takeDecision(inst, d, SelectPath(d), fx)
		e.enter(ctx, inst, next, fx)
		return nil
	}
	e.presentLater(ctx, d.ID, fx)
	return nil
}

// Modifications returns the audit log of an instance, oldest first
func (c *Controller) Modifications(instanceID string) []ModificationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ModificationRecord(nil), c.log[instanceID]...)
}

// ActiveModifications returns the audit logs of every instance
func (c *Controller) ActiveModifications() map[string][]ModificationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]ModificationRecord, len(c.log))
	for id, recs := range c.log {
		out[id] = append([]ModificationRecord(nil), recs...)
	}
	return out
}

// RegisterConditionalForm adds or replaces a trigger
func (c *Controller) RegisterConditionalForm(form ConditionalForm) error {
	if form.TriggerID == "" {
		return errors.New(errors.ErrInvalidInput, "conditional form requires a trigger id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.forms[form.TriggerID]; !exists {
		c.order = append(c.order, form.TriggerID)
	}
	c.forms[form.TriggerID] = form
	return nil
}

// EvaluateConditionalForms renders the form of every trigger whose
// expression matches data, in registration order, and returns the form
// handles. A nil data map means the instance's collected data. High
// priority triggers are removed once they fire.
func (c *Controller) EvaluateConditionalForms(ctx context.Context, instanceID string, data map[string]any) ([]string, error) {
	if data == nil {
		inst, err := c.engine.instances.lock(instanceID)
		if err != nil {
			return nil, errors.WithOp(err, "EvaluateConditionalForms")
		}
		data = inst.collected()
		inst.mu.Unlock()
	} else if !c.engine.instances.has(instanceID) {
		return nil, errors.WithOp(errors.Newf(errors.ErrInstanceNotFound, "workflow instance not found: %s", instanceID), "EvaluateConditionalForms")
	}

	c.mu.Lock()
	var fired []ConditionalForm
	for _, id := range c.order {
		form := c.forms[id]
		if condition.EvaluateExpression(form.Condition, data) {
			fired = append(fired, form)
		}
	}
	for _, form := range fired {
		if form.Priority == PriorityHigh {
			c.dropForm(form.TriggerID)
		}
	}
	c.mu.Unlock()

	renderer := c.engine.renderer
	var handles []string
	for _, form := range fired {
		if renderer == nil {
			c.logger.Warn("Trigger %s matched but no form renderer is configured", form.TriggerID)
			continue
		}
		spec := customizeForm(form.FormTemplate, data)
		var handle string
		err := protect(func() error {
			var rerr error
			handle, rerr = renderer.RenderForm(ctx, spec)
			return rerr
		})
		if err != nil {
			return handles, errors.WithOp(errors.Wrap(err, errors.ErrExternalHandlerFailure, "render conditional form "+form.TriggerID), "EvaluateConditionalForms")
		}
		c.logger.Debug("Trigger %s rendered form %s for %s", form.TriggerID, handle, instanceID)
		handles = append(handles, handle)
	}
	return handles, nil
}

// dropForm removes a trigger. c.mu must be held.
func (c *Controller) dropForm(id string) {
	delete(c.forms, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// customizeForm tailors a trigger's template to the data that fired it.
func customizeForm(tmpl FormSpec, data map[string]any) FormSpec {
	spec := tmpl.Clone()
	if pt, _ := data["projectType"].(string); pt == "web" {
		for i := range spec.Sections {
			if spec.Sections[i].ID != "technical-details" {
				continue
			}
			spec.Sections[i].Fields = append(spec.Sections[i].Fields, FormField{
				ID:    "webFramework",
				Type:  "select",
				Label: "Web Framework",
				Options: []FieldOption{
					{Value: "react", Label: "React"},
					{Value: "vue", Label: "Vue.js"},
					{Value: "angular", Label: "Angular"},
				},
			})
		}
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	spec.Title = fmt.Sprintf("%s (Based on: %s)", spec.Title, strings.Join(keys, ", "))
	return spec
}

// ClearWorkflowData forgets everything kept about a finished or discarded
// instance: its modification log, analytics, pending decisions and the
// outcome Await would report.
func (c *Controller) ClearWorkflowData(instanceID string) {
	c.mu.Lock()
	delete(c.log, instanceID)
	c.mu.Unlock()
	c.engine.analytics.Clear(instanceID)
	c.engine.broker.discard(instanceID)
	c.engine.hub.forget(instanceID)
}

// RetainFinished keeps the data of at most n finished instances and clears
// the oldest beyond that. The returned function stops the retention.
func (c *Controller) RetainFinished(n int) func() {
	var (
		mu       sync.Mutex
		finished []string
	)
	return c.engine.Subscribe(SubscriberFunc(func(ev Event) {
		switch ev.Type {
		case EventCompleted, EventFailed, EventCancelled:
		default:
			return
		}
		mu.Lock()
		finished = append(finished, ev.InstanceID)
		var evicted []string
		if over := len(finished) - n; over > 0 {
			evicted = append(evicted, finished[:over]...)
			finished = append(finished[:0:0], finished[over:]...)
		}
		mu.Unlock()

		for _, id := range evicted {
			c.logger.Debug("Clearing data of finished instance %s", id)
			c.ClearWorkflowData(id)
		}
	}))
}
