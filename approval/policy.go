// Package approval provides rule-based implementations of workflow.Approver.
package approval

import (
	"context"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

// Policy approves modifications and picks branching paths without a human
// in the loop.
type Policy struct {
	// AutoApprove accepts modifications. When false every proposal is declined.
	AutoApprove bool

	// AllowedTypes restricts AutoApprove to these types. Empty allows all.
	AllowedTypes []workflow.ModificationType

	// AutoDecide answers every presented decision with the recommended path.
	// When false decisions wait for an explicit resolution.
	AutoDecide bool

	Logger workflow.Logger
}

var _ workflow.Approver = (*Policy)(nil)

// NewPolicy builds a policy from configuration strings. Unknown type names
// are reported and ignored.
func NewPolicy(autoApprove, autoDecide bool, allowed []string, logger workflow.Logger) *Policy {
	p := &Policy{AutoApprove: autoApprove, AutoDecide: autoDecide, Logger: workflow.WithPrefix(logger, "approval")}
	for _, name := range allowed {
		t := workflow.ModificationType(name)
		if !t.Valid() {
			p.Logger.Warn("Ignoring unknown modification type %q", name)
			continue
		}
		p.AllowedTypes = append(p.AllowedTypes, t)
	}
	return p
}

// RequestApproval implements workflow.Approver
func (p *Policy) RequestApproval(_ context.Context, mod workflow.Modification) (bool, error) {
	if !p.AutoApprove {
		p.logf("Declining %s on %s: auto-approval is off", mod.Type, mod.InstanceID)
		return false, nil
	}
	if len(p.AllowedTypes) > 0 && !p.allows(mod.Type) {
		p.logf("Declining %s on %s: type not allowed", mod.Type, mod.InstanceID)
		return false, nil
	}
	return true, nil
}

// PresentChoice implements workflow.Approver
func (p *Policy) PresentChoice(_ context.Context, d workflow.BranchingDecision) (string, error) {
	if !p.AutoDecide {
		return "", nil
	}
	choice := d.Recommendation
	if !offered(d, choice) {
		choice = workflow.SelectPath(d).ID
	}
	p.logf("Choosing %s for decision %s", choice, d.ID)
	return choice, nil
}

func (p *Policy) allows(t workflow.ModificationType) bool {
	for _, a := range p.AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

func offered(d workflow.BranchingDecision, pathID string) bool {
	for _, path := range d.AvailablePaths {
		if path.ID == pathID {
			return true
		}
	}
	return false
}

func (p *Policy) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Info(format, args...)
	}
}
