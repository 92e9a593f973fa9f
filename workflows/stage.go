package workflow

import (
	"fmt"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/aggregate"
	"github.com/davidroman0O/stageflow/workflows/condition"
)

// StageKind is the kind of work a stage performs
type StageKind string

const (
	// KindForm collects data through the form subsystem and suspends until
	// the response arrives.
	KindForm StageKind = "form"

	// KindDecision routes on the data collected so far without external
	// interaction, or presents a branching decision when it carries paths.
	KindDecision StageKind = "decision"

	// KindAction runs an external handler and waits for its acknowledgement.
	KindAction StageKind = "action"

	// KindAggregation derives values into the instance's aggregated data.
	KindAggregation StageKind = "aggregation"
)

// Valid reports whether k is one of the four stage kinds.
func (k StageKind) Valid() bool {
	switch k {
	case KindForm, KindDecision, KindAction, KindAggregation:
		return true
	}
	return false
}

// Stage is one node of a workflow graph. Stages are values: the template
// owns its copy and instances clone before changing anything.
type Stage struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        StageKind `json:"type" yaml:"type"`

	// FormSpec is rendered for form stages.
	FormSpec *FormSpec `json:"formSpec,omitempty" yaml:"formSpec,omitempty"`

	// Conditions are evaluated in order; the first match picks the next stage.
	Conditions []condition.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// NextStageIDs lists successors. The first entry is the fallback when no
	// condition matches; an empty list ends the workflow.
	NextStageIDs []string `json:"nextStageIds,omitempty" yaml:"nextStageIds,omitempty"`

	AggregationRules []aggregate.Rule `json:"aggregationRules,omitempty" yaml:"aggregationRules,omitempty"`

	// Action names the handler an action stage runs. Empty means the stage id.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`

	// Paths turn a decision stage into a branching decision.
	Paths      []BranchingPath `json:"paths,omitempty" yaml:"paths,omitempty"`
	AutoDecide bool            `json:"autoDecide,omitempty" yaml:"autoDecide,omitempty"`
}

// ActionName returns the handler name for an action stage.
func (s Stage) ActionName() string {
	if s.Action != "" {
		return s.Action
	}
	return s.ID
}

// IsBranching reports whether reaching the stage presents a decision.
func (s Stage) IsBranching() bool {
	return s.Kind == KindDecision && len(s.Paths) > 0
}

// References returns every stage id the stage can route to.
func (s Stage) References() []string {
	var refs []string
	refs = append(refs, s.NextStageIDs...)
	for _, c := range s.Conditions {
		if c.NextStageID != "" {
			refs = append(refs, c.NextStageID)
		}
	}
	for _, p := range s.Paths {
		refs = append(refs, p.NextStageIDs...)
	}
	return refs
}

// validate checks the stage in isolation.
func (s Stage) validate() error {
	if s.ID == "" {
		return errors.New(errors.ErrInvalidInput, "stage id is required")
	}
	if !s.Kind.Valid() {
		return errors.Newf(errors.ErrInvalidInput, "stage %s: unknown kind %q", s.ID, s.Kind)
	}
	for i, c := range s.Conditions {
		if c.Field == "" {
			return errors.Newf(errors.ErrInvalidInput, "stage %s: condition %d has no field", s.ID, i)
		}
		if !c.Operator.Valid() {
			return errors.Newf(errors.ErrInvalidInput, "stage %s: condition %d has unknown operator %q", s.ID, i, c.Operator)
		}
	}
	for _, r := range s.AggregationRules {
		if r.TargetField == "" {
			return errors.Newf(errors.ErrInvalidInput, "stage %s: aggregation rule without target field", s.ID)
		}
	}
	seen := map[string]bool{}
	for _, p := range s.Paths {
		if p.ID == "" {
			return errors.Newf(errors.ErrInvalidInput, "stage %s: branching path without id", s.ID)
		}
		if seen[p.ID] {
			return errors.Newf(errors.ErrInvalidInput, "stage %s: duplicate branching path %s", s.ID, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// FormSpec describes a form handed to the form subsystem.
type FormSpec struct {
	ID           string        `json:"id" yaml:"id"`
	Title        string        `json:"title" yaml:"title"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	FormType     string        `json:"formType,omitempty" yaml:"formType,omitempty"`
	Complexity   string        `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	Purpose      string        `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Sections     []FormSection `json:"sections,omitempty" yaml:"sections,omitempty"`
	ShowProgress bool          `json:"showProgress,omitempty" yaml:"showProgress,omitempty"`
}

// FormSection groups fields.
type FormSection struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FormField `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FormField is a single input.
type FormField struct {
	ID          string        `json:"id" yaml:"id"`
	Type        string        `json:"type" yaml:"type"`
	Label       string        `json:"label" yaml:"label"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Placeholder string        `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options     []FieldOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// FieldOption is a choice of a select-like field.
type FieldOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// Clone returns a deep copy of the spec.
func (f FormSpec) Clone() FormSpec {
	c := f
	c.Sections = make([]FormSection, len(f.Sections))
	for i, s := range f.Sections {
		s.Fields = append([]FormField(nil), s.Fields...)
		for j := range s.Fields {
			s.Fields[j].Options = append([]FieldOption(nil), s.Fields[j].Options...)
		}
		c.Sections[i] = s
	}
	return c
}

// RequiredFields returns the ids of every field marked required.
func (f FormSpec) RequiredFields() []string {
	var out []string
	for _, s := range f.Sections {
		for _, fld := range s.Fields {
			if fld.Required {
				out = append(out, fld.ID)
			}
		}
	}
	return out
}

// decorate marks the spec as one step of a multi-step workflow.
func (f FormSpec) decorate(step int, workflowID string) FormSpec {
	c := f.Clone()
	c.Title = fmt.Sprintf("%s (Step %d)", c.Title, step)
	c.Description = fmt.Sprintf("%s\n\nThis is part of a multi-step workflow: %s", c.Description, workflowID)
	c.ShowProgress = true
	return c
}
