package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultBottleneckThreshold is the mean stage duration above which a stage
// is reported as a bottleneck.
const DefaultBottleneckThreshold = 5 * time.Minute

// InteractionType classifies a recorded interaction
type InteractionType string

const (
	InteractionFormCompletion    InteractionType = "form_completion"
	InteractionNavigation        InteractionType = "navigation"
	InteractionModification      InteractionType = "modification"
	InteractionSkip              InteractionType = "skip"
	InteractionBranchingDecision InteractionType = "branching_decision"
	InteractionActionCompletion  InteractionType = "action_completion"
)

// Suggestion types
const SuggestionSimplifyForm = "simplify_form"

var bottleneckIssues = []string{"Long completion time", "Complex form structure"}

// InteractionEvent is one recorded interaction
type InteractionEvent struct {
	StageID    string          `json:"stageId"`
	Type       InteractionType `json:"interactionType"`
	DurationMs int64           `json:"duration"`
	Complexity int             `json:"complexity"`
	At         time.Time       `json:"at"`
}

// Bottleneck is a stage whose mean duration exceeds the threshold
type Bottleneck struct {
	StageID               string   `json:"stageId"`
	AverageCompletionTime float64  `json:"averageCompletionTime"`
	DropoffRate           float64  `json:"dropoffRate"`
	CommonIssues          []string `json:"commonIssues"`
}

// Suggestion is an optimization hint derived from a bottleneck
type Suggestion struct {
	Type                string  `json:"type"`
	TargetStage         string  `json:"targetStage"`
	Description         string  `json:"description"`
	ExpectedImprovement float64 `json:"expectedImprovement"`
}

// WorkflowAnalytics is the per-instance view
type WorkflowAnalytics struct {
	InstanceID string `json:"instanceId"`

	// StageCompletionTimes is the mean recorded duration per stage, in ms.
	StageCompletionTimes map[string]float64 `json:"stageCompletionTimes"`
	InteractionEvents    []InteractionEvent `json:"interactionEvents"`
	Bottlenecks          []Bottleneck       `json:"bottlenecks"`
	Suggestions          []Suggestion       `json:"suggestions"`
}

func (a *WorkflowAnalytics) clone() WorkflowAnalytics {
	out := WorkflowAnalytics{
		InstanceID:           a.InstanceID,
		StageCompletionTimes: make(map[string]float64, len(a.StageCompletionTimes)),
		InteractionEvents:    append([]InteractionEvent(nil), a.InteractionEvents...),
		Bottlenecks:          make([]Bottleneck, len(a.Bottlenecks)),
		Suggestions:          append([]Suggestion(nil), a.Suggestions...),
	}
	for k, v := range a.StageCompletionTimes {
		out.StageCompletionTimes[k] = v
	}
	for i, b := range a.Bottlenecks {
		b.CommonIssues = append([]string(nil), b.CommonIssues...)
		out.Bottlenecks[i] = b
	}
	return out
}

// Analytics observes instances. It never touches instance state.
type Analytics struct {
	mu        sync.Mutex
	threshold time.Duration
	byID      map[string]*WorkflowAnalytics
	now       func() time.Time
}

// NewAnalytics creates an analytics store with the given bottleneck
// threshold. A non-positive threshold means DefaultBottleneckThreshold.
func NewAnalytics(threshold time.Duration) *Analytics {
	if threshold <= 0 {
		threshold = DefaultBottleneckThreshold
	}
	return &Analytics{
		threshold: threshold,
		byID:      make(map[string]*WorkflowAnalytics),
		now:       time.Now,
	}
}

// RecordEvent appends an interaction and recomputes the instance's
// bottlenecks and suggestions.
func (a *Analytics) RecordEvent(instanceID, stageID string, typ InteractionType, durationMs int64) {
	if stageID == "" {
		stageID = "unknown"
	}
	if durationMs < 0 {
		durationMs = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	wa, ok := a.byID[instanceID]
	if !ok {
		wa = &WorkflowAnalytics{InstanceID: instanceID}
		a.byID[instanceID] = wa
	}
	wa.InteractionEvents = append(wa.InteractionEvents, InteractionEvent{
		StageID:    stageID,
		Type:       typ,
		DurationMs: durationMs,
		Complexity: 1,
		At:         a.now(),
	})

	wa.StageCompletionTimes, wa.Bottlenecks = a.analyze(wa.InteractionEvents)
	wa.Suggestions = suggest(wa.Bottlenecks)
}

// Analytics returns a copy of the instance's analytics
func (a *Analytics) Analytics(instanceID string) (WorkflowAnalytics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	wa, ok := a.byID[instanceID]
	if !ok {
		return WorkflowAnalytics{}, false
	}
	return wa.clone(), true
}

// Bottlenecks aggregates the events of every instance by stage id.
func (a *Analytics) Bottlenecks() []Bottleneck {
	a.mu.Lock()
	defer a.mu.Unlock()
	var all []InteractionEvent
	for _, wa := range a.byID {
		all = append(all, wa.InteractionEvents...)
	}
	_, bottlenecks := a.analyze(all)
	return bottlenecks
}

// Clear drops the analytics of an instance
func (a *Analytics) Clear(instanceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, instanceID)
}

// analyze computes the mean duration per stage and the stages above the
// threshold, in stage id order. a.mu must be held.
func (a *Analytics) analyze(events []InteractionEvent) (map[string]float64, []Bottleneck) {
	type stats struct {
		total float64
		count int
		skips int
	}
	byStage := make(map[string]*stats)
	for _, ev := range events {
		s, ok := byStage[ev.StageID]
		if !ok {
			s = &stats{}
			byStage[ev.StageID] = s
		}
		s.total += float64(ev.DurationMs)
		s.count++
		if ev.Type == InteractionSkip {
			s.skips++
		}
	}

	ids := make([]string, 0, len(byStage))
	for id := range byStage {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	limit := float64(a.threshold.Milliseconds())
	means := make(map[string]float64, len(byStage))
	var bottlenecks []Bottleneck
	for _, id := range ids {
		s := byStage[id]
		mean := s.total / float64(s.count)
		means[id] = mean
		if mean > limit {
			bottlenecks = append(bottlenecks, Bottleneck{
				StageID:               id,
				AverageCompletionTime: mean,
				DropoffRate:           float64(s.skips) / float64(s.count),
				CommonIssues:          append([]string(nil), bottleneckIssues...),
			})
		}
	}
	return means, bottlenecks
}

func suggest(bottlenecks []Bottleneck) []Suggestion {
	out := make([]Suggestion, 0, len(bottlenecks))
	for _, b := range bottlenecks {
		out = append(out, Suggestion{
			Type:                SuggestionSimplifyForm,
			TargetStage:         b.StageID,
			Description:         fmt.Sprintf("Consider simplifying the form in stage %s to reduce completion time", b.StageID),
			ExpectedImprovement: 0.3,
		})
	}
	return out
}
