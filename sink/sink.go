// Package sink holds the in-process implementations of workflow.Sink.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

// Memory keeps every persisted result in memory, in arrival order.
type Memory struct {
	mu      sync.RWMutex
	results []workflow.Result
	byID    map[string]int
}

var _ workflow.Sink = (*Memory)(nil)

// NewMemory creates an empty memory sink
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]int)}
}

// Persist implements workflow.Sink. A second result for the same instance
// is rejected.
func (m *Memory) Persist(_ context.Context, result workflow.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[result.InstanceID]; ok {
		return errors.Newf(errors.ErrInvalidState, "result for %s already persisted", result.InstanceID)
	}
	m.byID[result.InstanceID] = len(m.results)
	m.results = append(m.results, result)
	return nil
}

// Get returns the result persisted for an instance
func (m *Memory) Get(instanceID string) (workflow.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[instanceID]
	if !ok {
		return workflow.Result{}, errors.Newf(errors.ErrNotFound, "no result for %s", instanceID)
	}
	return m.results[i], nil
}

// Results returns every persisted result, oldest first
func (m *Memory) Results() []workflow.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]workflow.Result(nil), m.results...)
}

// JSONLines appends each result as one JSON document per line.
type JSONLines struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

var _ workflow.Sink = (*JSONLines)(nil)

// NewJSONLines writes results to w
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w, enc: json.NewEncoder(w)}
}

// OpenFile appends results to the file at path, creating it if needed.
// The caller closes the returned file.
func OpenFile(path string) (*JSONLines, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening result file %s: %w", path, err)
	}
	return NewJSONLines(f), f, nil
}

// Persist implements workflow.Sink
func (s *JSONLines) Persist(ctx context.Context, result workflow.Result) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCancelled, "persist "+result.InstanceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(result); err != nil {
		return errors.Wrap(err, errors.ErrExternalHandlerFailure, "encode result "+result.InstanceID)
	}
	return nil
}

// Multi persists to every sink in order and reports the first failure
// after trying them all.
type Multi []workflow.Sink

// Persist implements workflow.Sink
func (m Multi) Persist(ctx context.Context, result workflow.Result) error {
	var first error
	for _, s := range m {
		if err := s.Persist(ctx, result); err != nil && first == nil {
			first = err
		}
	}
	return first
}
