package checkpoint

import (
	"container/list"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/agentstation/screenflow"
)

// MemoryStore keeps checkpoints in process. When more than maxRuns runs are
// stored the least recently written run is evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*run
	order   *list.List
	maxRuns int
	onEvict func(runID string)
}

type run struct {
	id          string
	checkpoints []screenflow.Checkpoint
	element     *list.Element
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxRuns bounds the number of runs kept. Zero keeps every run.
func WithMaxRuns(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxRuns = n
	}
}

// WithEvictionCallback is called with the id of every evicted run.
func WithEvictionCallback(fn func(runID string)) MemoryOption {
	return func(s *MemoryStore) {
		s.onEvict = fn
	}
}

// NewMemoryStore creates an in-memory store keeping at most 1000 runs.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		runs:    make(map[string]*run),
		order:   list.New(),
		maxRuns: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save appends cp to its run.
func (s *MemoryStore) Save(_ context.Context, cp screenflow.Checkpoint) error {
	cp.Values = maps.Clone(cp.Values)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[cp.RunID]
	if !ok {
		r = &run{id: cp.RunID}
		r.element = s.order.PushFront(r)
		s.runs[cp.RunID] = r
	} else {
		s.order.MoveToFront(r.element)
	}
	r.checkpoints = append(r.checkpoints, cp)

	for s.maxRuns > 0 && len(s.runs) > s.maxRuns {
		s.evictOldest()
	}
	return nil
}

// Load returns a copy of the run's checkpoints.
func (s *MemoryStore) Load(_ context.Context, runID string) ([]screenflow.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return slices.Clone(r.checkpoints), nil
}

// Delete removes a run.
func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.runs[runID]; ok {
		s.order.Remove(r.element)
		delete(s.runs, runID)
	}
	return nil
}

// Runs lists stored runs, most recently written first.
func (s *MemoryStore) Runs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for e := s.order.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*run).id)
	}
	return ids, nil
}

func (s *MemoryStore) evictOldest() {
	elem := s.order.Back()
	if elem == nil {
		return
	}
	r := elem.Value.(*run)
	s.order.Remove(elem)
	delete(s.runs, r.id)
	if s.onEvict != nil {
		s.onEvict(r.id)
	}
}
