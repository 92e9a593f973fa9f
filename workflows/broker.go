package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/value"
)

// Complexity of a branching path
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

func (c Complexity) rank() int {
	switch c {
	case ComplexitySimple:
		return 0
	case ComplexityModerate:
		return 1
	case ComplexityComplex:
		return 2
	}
	return 3
}

// BranchingPath is one named continuation of a decision point
type BranchingPath struct {
	ID                string     `json:"id" yaml:"id"`
	Name              string     `json:"name" yaml:"name"`
	Description       string     `json:"description,omitempty" yaml:"description,omitempty"`
	NextStageIDs      []string   `json:"nextStageIds" yaml:"nextStageIds"`
	EstimatedDuration int        `json:"estimatedDuration,omitempty" yaml:"estimatedDuration,omitempty"`
	Complexity        Complexity `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	RequiredData      []string   `json:"requiredData,omitempty" yaml:"requiredData,omitempty"`
}

// BranchingDecision is a choice an instance waits on. It is resolved exactly
// once and then discarded.
type BranchingDecision struct {
	ID             string          `json:"id"`
	InstanceID     string          `json:"instanceId"`
	StageID        string          `json:"stageId"`
	CurrentData    map[string]any  `json:"currentData"`
	AvailablePaths []BranchingPath `json:"availablePaths"`
	Recommendation string          `json:"recommendation,omitempty"`
	ChosenPathID   string          `json:"chosenPathId,omitempty"`
	AutoDecide     bool            `json:"autoDecide"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (d BranchingDecision) path(id string) (BranchingPath, bool) {
	for _, p := range d.AvailablePaths {
		if p.ID == id {
			return p, true
		}
	}
	return BranchingPath{}, false
}

// SelectPath picks the path an automatic decision takes: among the paths
// whose required data is present (all paths if none qualify), the one with
// the lowest complexity, earlier paths winning ties.
func SelectPath(d BranchingDecision) BranchingPath {
	candidates := make([]BranchingPath, 0, len(d.AvailablePaths))
	for _, p := range d.AvailablePaths {
		if hasAll(d.CurrentData, p.RequiredData) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = d.AvailablePaths
	}
	if len(candidates) == 0 {
		return BranchingPath{}
	}
	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.Complexity.rank() < best.Complexity.rank() {
			best = p
		}
	}
	return best
}

func hasAll(data map[string]any, fields []string) bool {
	for _, f := range fields {
		if _, kind := value.Lookup(data, f); kind == value.Absent {
			return false
		}
	}
	return true
}

// Broker holds the pending branching decisions of every instance.
type Broker struct {
	engine *Engine

	mu        sync.Mutex
	decisions map[string]*BranchingDecision
}

// create registers a decision for inst and blocks the instance on it.
// inst.mu must be held.
func (b *Broker) create(inst *instanceState, stageID string, paths []BranchingPath, auto bool, now time.Time) BranchingDecision {
	d := BranchingDecision{
		ID:             "decision-" + uuid.NewString(),
		InstanceID:     inst.id,
		StageID:        stageID,
		CurrentData:    inst.collected(),
		AvailablePaths: append([]BranchingPath(nil), paths...),
		AutoDecide:     auto,
		CreatedAt:      now,
	}
	d.Recommendation = SelectPath(d).ID

	b.mu.Lock()
	b.decisions[d.ID] = &d
	b.mu.Unlock()

	inst.pendingDecision = d.ID
	return d
}

func (b *Broker) get(id string) (BranchingDecision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.decisions[id]
	if !ok {
		return BranchingDecision{}, false
	}
	return *d, true
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.decisions, id)
}

// discard drops every decision of an instance.
func (b *Broker) discard(instanceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, d := range b.decisions {
		if d.InstanceID == instanceID {
			delete(b.decisions, id)
		}
	}
}

// Decision returns a pending decision
func (b *Broker) Decision(id string) (BranchingDecision, error) {
	d, ok := b.get(id)
	if !ok {
		return BranchingDecision{}, errors.Newf(errors.ErrDecisionNotFound, "branching decision not found: %s", id)
	}
	return d, nil
}

// PendingDecisions lists the unresolved decisions of an instance, or of all
// instances when instanceID is empty, oldest first.
func (b *Broker) PendingDecisions(instanceID string) []BranchingDecision {
	b.mu.Lock()
	out := make([]BranchingDecision, 0, len(b.decisions))
	for _, d := range b.decisions {
		if instanceID == "" || d.InstanceID == instanceID {
			out = append(out, *d)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PresentDecision offers a pending decision to whoever drives the instance.
// Automatic decisions resolve on the spot. Otherwise the approver's choice
// is applied; an empty choice leaves the decision pending for a later
// ResolveDecision. The chosen path id is returned.
func (b *Broker) PresentDecision(ctx context.Context, decisionID string) (string, error) {
	d, err := b.Decision(decisionID)
	if err != nil {
		return "", errors.WithOp(err, "PresentDecision")
	}

	if d.AutoDecide {
		choice := SelectPath(d).ID
		return choice, b.ResolveDecision(ctx, decisionID, choice)
	}

	approver := b.engine.approver
	if approver == nil {
		return "", nil
	}

	var choice string
	err = protect(func() error {
		var perr error
		choice, perr = approver.PresentChoice(ctx, d)
		return perr
	})
	if err != nil {
		b.engine.logger.Error("Approval channel failed for decision %s: %v", decisionID, err)
		return "", errors.WithOp(errors.Wrap(err, errors.ErrExternalHandlerFailure, "present choice"), "PresentDecision")
	}
	if choice == "" {
		return "", nil
	}
	if err := b.ResolveDecision(ctx, decisionID, choice); err != nil {
		return "", err
	}
	return choice, nil
}

// ResolveDecision applies the chosen path: the instance moves to the first
// stage of the path and the decision is discarded.
func (b *Broker) ResolveDecision(ctx context.Context, decisionID, pathID string) error {
	d, ok := b.get(decisionID)
	if !ok {
		return errors.WithOp(errors.Newf(errors.ErrDecisionNotFound, "branching decision not found: %s", decisionID), "ResolveDecision")
	}
	path, ok := d.path(pathID)
	if !ok {
		return errors.WithOp(errors.Newf(errors.ErrInvalidInput, "decision %s has no path %s", decisionID, pathID), "ResolveDecision")
	}

	e := b.engine
	inst, err := e.instances.lock(d.InstanceID)
	if err != nil {
		return errors.WithOp(err, "ResolveDecision")
	}

	var fx effects
	switch {
	case inst.pendingDecision != decisionID:
		err = errors.Newf(errors.ErrDecisionNotFound, "branching decision %s is no longer pending", decisionID)
	case inst.status != StatusActive:
		err = errors.Newf(errors.ErrInvalidState, "workflow instance %s is %s", inst.id, inst.status)
	default:
		next := e.takeDecision(inst, d, path, &fx)
		e.enter(ctx, inst, next, &fx)
	}
	inst.mu.Unlock()

	e.flush(fx)
	return errors.WithOp(err, "ResolveDecision")
}

// takeDecision consumes d with the chosen path and returns the stage the
// instance continues at. inst.mu must be held.
func (e *Engine) takeDecision(inst *instanceState, d BranchingDecision, path BranchingPath, fx *effects) string {
	e.broker.remove(d.ID)
	inst.pendingDecision = ""

	now := e.now()
	e.analytics.RecordEvent(inst.id, d.StageID, InteractionBranchingDecision, now.Sub(d.CreatedAt).Milliseconds())
	e.logger.Info("Decision %s of %s resolved to %s", d.ID, inst.id, path.ID)
	e.emit(fx, inst, EventDecisionResolved, d.StageID, map[string]any{
		"decisionId":       d.ID,
		"chosenPathId":     path.ID,
		"availableOptions": len(d.AvailablePaths),
	})

	// an injected decision replaces the response a form or action stage was
	// waiting for
	if cur, ok := inst.stage(inst.currentStageID); ok {
		status := StageStatusSkipped
		if cur.Kind == KindDecision {
			status = StageStatusCompleted
		}
		inst.markStage(cur.ID, status, false)
	}
	inst.lastActivity = now
	return firstOf(path.NextStageIDs)
}

// presentLater offers a decision once the instance lock is released.
func (e *Engine) presentLater(ctx context.Context, decisionID string, fx *effects) {
	fx.add(func() {
		if _, err := e.broker.PresentDecision(ctx, decisionID); err != nil {
			e.logger.Warn("Decision %s still pending: %v", decisionID, err)
		}
	})
}
