package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/davidroman0O/stageflow/errors"
)

// EventType names a lifecycle event
type EventType string

const (
	EventStarted          EventType = "started"
	EventStageEntered     EventType = "stage_entered"
	EventStageCompleted   EventType = "stage_completed"
	EventDecisionPending  EventType = "decision_pending"
	EventDecisionResolved EventType = "decision_resolved"
	EventModification     EventType = "modification"
	EventPaused           EventType = "paused"
	EventResumed          EventType = "resumed"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
	EventCancelled        EventType = "cancelled"
)

// Event is delivered to subscribers after the instance lock is released,
// in the order the engine produced them.
type Event struct {
	Type       EventType
	InstanceID string
	WorkflowID string
	StageID    string
	Time       time.Time

	// Result is set on completed and failed events.
	Result *Result

	// Err carries the failure cause on failed events.
	Err error

	Data map[string]any
}

// Subscriber observes engine events. OnEvent runs on the goroutine that
// caused the event and must not block.
type Subscriber interface {
	OnEvent(Event)
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(Event)

// OnEvent implements Subscriber
func (f SubscriberFunc) OnEvent(e Event) { f(e) }

type outcome struct {
	result Result
	err    error
}

// hub fans events out to subscribers and completes Await futures.
type hub struct {
	mu       sync.RWMutex
	next     int
	subs     map[int]Subscriber
	order    []int
	live     map[string]bool
	waiters  map[string][]chan outcome
	finished map[string]outcome
}

func newHub() *hub {
	return &hub{
		subs:     make(map[int]Subscriber),
		live:     make(map[string]bool),
		waiters:  make(map[string][]chan outcome),
		finished: make(map[string]outcome),
	}
}

func (h *hub) subscribe(s Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = s
	h.order = append(h.order, id)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
		for i, o := range h.order {
			if o == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
}

func (h *hub) publish(e Event) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.order))
	for _, id := range h.order {
		subs = append(subs, h.subs[id])
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.OnEvent(e)
	}
}

// open marks an instance as started so Await can wait on it.
func (h *hub) open(instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live[instanceID] = true
}

// settle records the terminal outcome of an instance and wakes its waiters.
func (h *hub) settle(instanceID string, o outcome) {
	h.mu.Lock()
	delete(h.live, instanceID)
	h.finished[instanceID] = o
	waiters := h.waiters[instanceID]
	delete(h.waiters, instanceID)
	h.mu.Unlock()

	for _, ch := range waiters {
		ch <- o
	}
}

// wait registers a waiter unless the outcome is already known. known is
// false for ids that were never started.
func (h *hub) wait(instanceID string) (ch chan outcome, done *outcome, known bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.finished[instanceID]; ok {
		return nil, &o, true
	}
	if !h.live[instanceID] {
		return nil, nil, false
	}
	ch = make(chan outcome, 1)
	h.waiters[instanceID] = append(h.waiters[instanceID], ch)
	return ch, nil, true
}

func (h *hub) drop(instanceID string, ch chan outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	waiters := h.waiters[instanceID]
	for i, w := range waiters {
		if w == ch {
			h.waiters[instanceID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(h.waiters[instanceID]) == 0 {
		delete(h.waiters, instanceID)
	}
}

func (h *hub) forget(instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.finished, instanceID)
}

// Subscribe registers s for every future event. The returned function
// removes the subscription.
func (e *Engine) Subscribe(s Subscriber) func() {
	return e.hub.subscribe(s)
}

// Await blocks until the instance completes, fails or is cancelled, or ctx
// is done. A failed instance returns its result together with the failure
// cause; a cancelled one returns an ErrCancelled error.
func (e *Engine) Await(ctx context.Context, instanceID string) (Result, error) {
	ch, done, known := e.hub.wait(instanceID)
	if done != nil {
		return done.result, done.err
	}
	if !known {
		return Result{}, errors.Newf(errors.ErrInstanceNotFound, "workflow instance not found: %s", instanceID)
	}

	select {
	case got := <-ch:
		return got.result, got.err
	case <-ctx.Done():
		e.hub.drop(instanceID, ch)
		return Result{}, errors.Wrap(ctx.Err(), errors.ErrTimeout, "await "+instanceID)
	}
}
