package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/stageflow/workflows/aggregate"
	"github.com/davidroman0O/stageflow/workflows/condition"
)

// TestLogger is a simple logger implementation for testing
type TestLogger struct {
	t *testing.T
}

func (l *TestLogger) Debug(format string, args ...interface{}) {
	l.t.Logf("[DEBUG] "+format, args...)
}

func (l *TestLogger) Info(format string, args ...interface{}) {
	l.t.Logf("[INFO] "+format, args...)
}

func (l *TestLogger) Warn(format string, args ...interface{}) {
	l.t.Logf("[WARN] "+format, args...)
}

func (l *TestLogger) Error(format string, args ...interface{}) {
	l.t.Logf("[ERROR] "+format, args...)
}

// fakeRenderer records every form it is asked to render
type fakeRenderer struct {
	mu    sync.Mutex
	specs []FormSpec
	err   error
}

func (r *fakeRenderer) RenderForm(_ context.Context, spec FormSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.specs = append(r.specs, spec)
	return fmt.Sprintf("form-%d", len(r.specs)), nil
}

func (r *fakeRenderer) rendered() []FormSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FormSpec(nil), r.specs...)
}

// memorySink keeps persisted results in memory
type memorySink struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (s *memorySink) Persist(_ context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return s.err
}

func (s *memorySink) all() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}

// fakeApprover answers every request the same way
type fakeApprover struct {
	mu        sync.Mutex
	approve   bool
	err       error
	choice    string
	mods      []Modification
	decisions []BranchingDecision
}

func (a *fakeApprover) RequestApproval(_ context.Context, mod Modification) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mods = append(a.mods, mod)
	return a.approve, a.err
}

func (a *fakeApprover) PresentChoice(_ context.Context, d BranchingDecision) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, d)
	return a.choice, a.err
}

// eventLog subscribes to an engine and records event types
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types(instanceID string) []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventType
	for _, e := range l.events {
		if e.InstanceID == instanceID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (l *eventLog) count(typ EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func form(id string, required ...string) *FormSpec {
	fields := make([]FormField, 0, len(required))
	for _, r := range required {
		fields = append(fields, FormField{ID: r, Type: "text", Label: r, Required: true})
	}
	return &FormSpec{
		ID:          id,
		Title:       id,
		Description: "Collect " + id,
		Sections:    []FormSection{{ID: "main", Title: "Main", Fields: fields}},
	}
}

// severityWorkflow routes intake -> escalate when severity is high,
// otherwise intake -> triage, which sends high scores to deep-dive. Every
// path ends in the summary aggregation.
func severityWorkflow() Definition {
	return Definition{
		ID:   "incident",
		Name: "Incident intake",
		Stages: []Stage{
			{
				ID:       "intake",
				Name:     "Intake",
				Kind:     KindForm,
				FormSpec: form("intake-form", "severity"),
				Conditions: []condition.Condition{
					{Field: "severity", Operator: condition.Equals, Value: "high", NextStageID: "escalate"},
				},
				NextStageIDs: []string{"triage"},
			},
			{
				ID:   "triage",
				Name: "Triage",
				Kind: KindDecision,
				Conditions: []condition.Condition{
					{Field: "score", Operator: condition.GreaterThan, Value: 5, NextStageID: "deep-dive"},
				},
				NextStageIDs: []string{"summary"},
			},
			{
				ID:           "escalate",
				Name:         "Escalate",
				Kind:         KindForm,
				FormSpec:     form("escalate-form", "owner"),
				NextStageIDs: []string{"summary"},
			},
			{
				ID:           "deep-dive",
				Name:         "Deep dive",
				Kind:         KindForm,
				FormSpec:     form("deep-dive-form"),
				NextStageIDs: []string{"summary"},
			},
			{
				ID:   "summary",
				Name: "Summary",
				Kind: KindAggregation,
				AggregationRules: []aggregate.Rule{
					{SourceFields: []string{"severity", "owner"}, TargetField: "headline", Operation: aggregate.Merge},
					{SourceFields: []string{"score", "extra"}, TargetField: "total", Operation: aggregate.Calculate},
				},
			},
		},
		Metadata: DefinitionMetadata{CreatedBy: CreatedBySystem, Priority: PriorityHigh},
	}
}

// feedbackWorkflow is a single form followed by a digest.
func feedbackWorkflow() Definition {
	return Definition{
		ID:   "feedback",
		Name: "Feedback",
		Stages: []Stage{
			{ID: "comment", Kind: KindForm, FormSpec: form("comment-form", "comment"), NextStageIDs: []string{"digest"}},
			{ID: "digest", Kind: KindAggregation, AggregationRules: []aggregate.Rule{
				{SourceFields: []string{"comment"}, TargetField: "digest", Operation: aggregate.Merge},
			}},
		},
	}
}

type fixture struct {
	engine   *Engine
	renderer *fakeRenderer
	sink     *memorySink
	approver *fakeApprover
	events   *eventLog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		renderer: &fakeRenderer{},
		sink:     &memorySink{},
		approver: &fakeApprover{},
		events:   &eventLog{},
	}
	registry := NewRegistry()
	require.NoError(t, registry.RegisterWorkflow(severityWorkflow()))

	base := []Option{
		WithLogger(&TestLogger{t: t}),
		WithFormRenderer(f.renderer),
		WithSink(f.sink),
		WithApprover(f.approver),
	}
	f.engine = NewEngine(registry, append(base, opts...)...)
	f.engine.Subscribe(f.events)
	return f
}

func (f *fixture) start(t *testing.T, workflowID string, opts ...StartOption) string {
	t.Helper()
	id, err := f.engine.StartWorkflow(context.Background(), workflowID, ConversationContext{ProjectType: "web"}, opts...)
	require.NoError(t, err)
	return id
}

func (f *fixture) await(t *testing.T, id string) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.engine.Await(ctx, id)
}
