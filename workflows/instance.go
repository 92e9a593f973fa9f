package workflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/store"
)

// Status of a workflow instance
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Instance is a point-in-time snapshot of a running workflow
type Instance struct {
	ID             string                    `json:"id"`
	WorkflowID     string                    `json:"workflowId"`
	CurrentStageID string                    `json:"currentStageId"`
	Status         Status                    `json:"status"`
	StageData      map[string]map[string]any `json:"stageData"`
	AggregatedData map[string]any            `json:"aggregatedData"`
	StartedAt      time.Time                 `json:"startedAt"`
	LastActivityAt time.Time                 `json:"lastActivityAt"`
	Context        ConversationContext       `json:"context"`

	// StageStatus maps every stage id of the instance to pending, running,
	// completed or skipped.
	StageStatus map[string]string `json:"stageStatus"`

	// PendingDecisionID is set while a branching decision blocks the instance.
	PendingDecisionID string `json:"pendingDecisionId,omitempty"`

	// Modified is true once an approved modification gave the instance its
	// own copy of the stage graph.
	Modified bool `json:"modified"`
}

// Result is the terminal snapshot of an instance, produced exactly once.
type Result struct {
	WorkflowID     string                    `json:"workflowId"`
	InstanceID     string                    `json:"instanceId"`
	Success        bool                      `json:"success"`
	AggregatedData map[string]any            `json:"aggregatedData"`
	StageResults   map[string]map[string]any `json:"stageResults"`
	CompletionTime time.Time                 `json:"completionTime"`
	NextActions    []string                  `json:"nextActions,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// stageStatus records per-stage progress in the instance's own store.
type stageStatus struct {
	StageID string `json:"stageId"`
	Visits  int    `json:"visits"`
}

// instanceState is the live, mutable side of an instance. Every field is
// guarded by mu.
type instanceState struct {
	mu sync.Mutex

	id         string
	workflowID string
	def        Definition

	// overrides holds per-instance stage copies; nil until the first
	// approved modification.
	overrides *store.KVStore
	appended  []string
	removed   map[string]bool

	status         Status
	currentStageID string
	stageData      map[string]map[string]any
	dataOrder      []string
	aggregated     map[string]any
	startedAt      time.Time
	lastActivity   time.Time
	enteredAt      time.Time
	context        ConversationContext
	onComplete     func(Result)

	pendingDecision string

	// visit changes every time a stage is entered or the instance pauses,
	// so acknowledgements and timers from an older visit are ignored.
	visit        uint64
	timer        *time.Timer
	cancelAction context.CancelFunc

	progress *store.KVStore

	// gone is set once the instance has left the live table.
	gone bool
}

func newInstanceState(id string, def Definition, convo ConversationContext, now time.Time) *instanceState {
	inst := &instanceState{
		id:           id,
		workflowID:   def.ID,
		def:          def,
		removed:      make(map[string]bool),
		status:       StatusPending,
		stageData:    make(map[string]map[string]any),
		aggregated:   make(map[string]any),
		startedAt:    now,
		lastActivity: now,
		context:      convo,
		progress:     store.NewKVStore(),
	}
	for _, s := range def.Stages {
		inst.markStage(s.ID, StageStatusPending, false)
	}
	return inst
}

// stage resolves id through the override store before the template.
func (inst *instanceState) stage(id string) (Stage, bool) {
	if id == "" || inst.removed[id] {
		return Stage{}, false
	}
	if inst.overrides != nil {
		if s, err := store.Get[Stage](inst.overrides, PrefixStage+id); err == nil {
			return s, true
		}
	}
	return inst.def.Stage(id)
}

// stageIDs returns the ids of the instance's stages in display order.
func (inst *instanceState) stageIDs() []string {
	ids := make([]string, 0, len(inst.def.Stages)+len(inst.appended))
	for _, s := range inst.def.Stages {
		if !inst.removed[s.ID] {
			ids = append(ids, s.ID)
		}
	}
	for _, id := range inst.appended {
		if !inst.removed[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (inst *instanceState) stages() []Stage {
	ids := inst.stageIDs()
	out := make([]Stage, 0, len(ids))
	for _, id := range ids {
		if s, ok := inst.stage(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// stepNumber is the 1-based position of id in the stage order.
func (inst *instanceState) stepNumber(id string) int {
	for i, sid := range inst.stageIDs() {
		if sid == id {
			return i + 1
		}
	}
	return 1
}

// putOverride stores a private copy of s, creating the override store on
// first use.
func (inst *instanceState) putOverride(s Stage, modID string) error {
	if inst.overrides == nil {
		inst.overrides = store.NewKVStore()
	}
	meta := store.NewMetadata()
	meta.AddTag(TagDynamic)
	meta.SetProperty(PropModification, modID)
	return inst.overrides.PutWithMetadata(PrefixStage+s.ID, s, meta)
}

// writeStageData stores data for a stage visit. A rewrite moves the stage to
// the end of the write order.
func (inst *instanceState) writeStageData(key string, data map[string]any) {
	for i, k := range inst.dataOrder {
		if k == key {
			inst.dataOrder = append(inst.dataOrder[:i], inst.dataOrder[i+1:]...)
			break
		}
	}
	inst.dataOrder = append(inst.dataOrder, key)
	inst.stageData[key] = copyMap(data)
}

// collected is the union of every stage's data, form handles excluded,
// later writes winning.
func (inst *instanceState) collected() map[string]any {
	all := make(map[string]any)
	for _, key := range inst.dataOrder {
		if strings.HasSuffix(key, formHandleSuffix) {
			continue
		}
		for k, v := range inst.stageData[key] {
			all[k] = v
		}
	}
	return all
}

func (inst *instanceState) markStage(id, status string, visit bool) {
	key := PrefixStage + id
	st, _ := store.GetOrDefault(inst.progress, key, stageStatus{StageID: id})
	if visit {
		st.Visits++
	}
	_ = inst.progress.Put(key, st)
	_ = inst.progress.SetProperty(key, PropStatus, status)
}

func (inst *instanceState) stageStatuses() map[string]string {
	out := make(map[string]string)
	for _, id := range inst.stageIDs() {
		if v, err := inst.progress.GetProperty(PrefixStage+id, PropStatus); err == nil {
			out[id], _ = v.(string)
		} else {
			out[id] = StageStatusPending
		}
	}
	return out
}

// completedStages lists stage ids in the completed state.
func (inst *instanceState) completedStages() []string {
	var out []string
	for _, key := range inst.progress.FindKeysByProperty(PropStatus, StageStatusCompleted) {
		out = append(out, strings.TrimPrefix(key, PrefixStage))
	}
	return out
}

func (inst *instanceState) stopTimer() {
	if inst.timer != nil {
		inst.timer.Stop()
		inst.timer = nil
	}
	if inst.cancelAction != nil {
		inst.cancelAction()
		inst.cancelAction = nil
	}
}

func (inst *instanceState) snapshot() Instance {
	data := make(map[string]map[string]any, len(inst.stageData))
	for k, v := range inst.stageData {
		data[k] = copyMap(v)
	}
	return Instance{
		ID:                inst.id,
		WorkflowID:        inst.workflowID,
		CurrentStageID:    inst.currentStageID,
		Status:            inst.status,
		StageData:         data,
		AggregatedData:    copyMap(inst.aggregated),
		StartedAt:         inst.startedAt,
		LastActivityAt:    inst.lastActivity,
		Context:           inst.context,
		StageStatus:       inst.stageStatuses(),
		PendingDecisionID: inst.pendingDecision,
		Modified:          (inst.overrides != nil && inst.overrides.Count() > 0) || len(inst.removed) > 0,
	}
}

// instanceTable is the live instance store. The table lock only guards the
// map; instance state is guarded per instance.
type instanceTable struct {
	mu sync.RWMutex
	m  map[string]*instanceState
}

func newInstanceTable() *instanceTable {
	return &instanceTable{m: make(map[string]*instanceState)}
}

func (t *instanceTable) put(inst *instanceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[inst.id] = inst
}

func (t *instanceTable) get(id string) (*instanceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.m[id]
	return inst, ok
}

func (t *instanceTable) has(id string) bool {
	_, ok := t.get(id)
	return ok
}

func (t *instanceTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, id)
}

func (t *instanceTable) list() []*instanceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*instanceState, 0, len(t.m))
	for _, inst := range t.m {
		out = append(out, inst)
	}
	return out
}

// lock returns the instance with its mutex held. Callers queue on the
// mutex; an instance that left the table while they waited is reported as
// not found.
func (t *instanceTable) lock(id string) (*instanceState, error) {
	inst, ok := t.get(id)
	if !ok {
		return nil, errors.Newf(errors.ErrInstanceNotFound, "workflow instance not found: %s", id)
	}
	inst.mu.Lock()
	if inst.gone {
		inst.mu.Unlock()
		return nil, errors.Newf(errors.ErrInstanceNotFound, "workflow instance not found: %s", id)
	}
	return inst, nil
}

// GetInstance returns a snapshot of a live instance
func (e *Engine) GetInstance(id string) (Instance, error) {
	inst, err := e.instances.lock(id)
	if err != nil {
		return Instance{}, err
	}
	defer inst.mu.Unlock()
	return inst.snapshot(), nil
}

// GetActiveWorkflows returns snapshots of every live instance, oldest first
func (e *Engine) GetActiveWorkflows() []Instance {
	var out []Instance
	for _, inst := range e.instances.list() {
		inst.mu.Lock()
		if !inst.gone {
			out = append(out, inst.snapshot())
		}
		inst.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// InstanceStages returns the instance's effective stage graph, with every
// approved modification applied.
func (e *Engine) InstanceStages(id string) ([]Stage, error) {
	inst, err := e.instances.lock(id)
	if err != nil {
		return nil, err
	}
	defer inst.mu.Unlock()
	return inst.stages(), nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
