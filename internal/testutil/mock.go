// Package testutil provides stage, router and checkpoint doubles for screenflow tests.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/agentstation/screenflow"
)

// MockStage is a Stage whose behavior is a plain function. It counts its runs
// and records the state it observed on each one.
type MockStage struct {
	name   string
	reads  []string
	writes []string
	policy screenflow.FaultPolicy

	Fn func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error)

	mu    sync.Mutex
	calls int
	seen  []map[string]any
}

// NewMockStage creates a mock stage. A nil fn returns an empty update.
func NewMockStage(name string, fn func(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error)) *MockStage {
	return &MockStage{name: name, Fn: fn}
}

// FailingStage creates a mock stage that always returns err.
func FailingStage(name string, err error) *MockStage {
	return NewMockStage(name, func(context.Context, screenflow.StateReader) (screenflow.Update, error) {
		return nil, err
	})
}

// Reading sets the declared read set.
func (m *MockStage) Reading(fields ...string) *MockStage {
	m.reads = fields
	return m
}

// Writing sets the declared write set.
func (m *MockStage) Writing(fields ...string) *MockStage {
	m.writes = fields
	return m
}

// Collecting switches the stage to collect-and-continue.
func (m *MockStage) Collecting() *MockStage {
	m.policy = screenflow.CollectAndContinue
	return m
}

func (m *MockStage) Name() string                   { return m.name }
func (m *MockStage) Reads() []string                { return slices.Clone(m.reads) }
func (m *MockStage) Writes() []string               { return slices.Clone(m.writes) }
func (m *MockStage) Policy() screenflow.FaultPolicy { return m.policy }

// Run implements screenflow.Stage.
func (m *MockStage) Run(ctx context.Context, state screenflow.StateReader) (screenflow.Update, error) {
	snapshot := make(map[string]any)
	for _, k := range state.Keys() {
		snapshot[k], _ = state.Get(k)
	}
	m.mu.Lock()
	m.calls++
	m.seen = append(m.seen, snapshot)
	m.mu.Unlock()

	if m.Fn == nil {
		return nil, nil
	}
	return m.Fn(ctx, state)
}

// Calls returns how many times the stage has run.
func (m *MockStage) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Seen returns the state observed by each run.
func (m *MockStage) Seen() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.seen)
}

// ScriptedRouter returns its outcomes in order, repeating the last one.
// Its own update is deliberately wrong so tests can verify it is ignored.
type ScriptedRouter struct {
	Outcomes []screenflow.Outcome
	Err      error

	mu    sync.Mutex
	calls int
}

// Decide implements screenflow.Router.
func (r *ScriptedRouter) Decide(context.Context, screenflow.StateReader) (screenflow.Outcome, screenflow.Update, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Err != nil {
		return "", nil, r.Err
	}
	if len(r.Outcomes) == 0 {
		return screenflow.Proceed, nil, nil
	}
	i := min(r.calls, len(r.Outcomes)) - 1
	return r.Outcomes[i], screenflow.Update{FieldCounter: 0, FieldReport: "router"}, nil
}

// Calls returns how many times the router was consulted.
func (r *ScriptedRouter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// MockCheckpointer records checkpoints in memory.
type MockCheckpointer struct {
	Err error

	mu    sync.Mutex
	saved []screenflow.Checkpoint
}

// Save implements screenflow.Checkpointer.
func (c *MockCheckpointer) Save(_ context.Context, cp screenflow.Checkpoint) error {
	if c.Err != nil {
		return c.Err
	}
	c.mu.Lock()
	c.saved = append(c.saved, cp)
	c.mu.Unlock()
	return nil
}

// Saved returns the recorded checkpoints.
func (c *MockCheckpointer) Saved() []screenflow.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.saved)
}

// ErrBoom is a stock failure for fault tests.
var ErrBoom = errors.New("boom")
