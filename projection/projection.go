// Package projection implements the read side of the system: read models
// that are folded from the event log and updated continuously by a
// Projector.
//
// Read models are eventually consistent and disposable. Deleting a read
// model and rebuilding it from position zero always reproduces the same
// state, because the event log is the only source of truth.
package projection

import (
	"context"
	"sync"

	"github.com/jpkontreras/orderflow/event"
)

// A Projection folds events into a read model. ApplyEvent is called with
// every event at or after the projection's checkpoint, in global order, and
// must be deterministic. Reset discards the state of the read model before a
// rebuild.
type Projection interface {
	// Name identifies the projection; checkpoints are stored under it.
	Name() string

	// ApplyEvent folds an event into the read model.
	ApplyEvent(evt event.Event) error

	// Reset discards the state of the read model.
	Reset() error
}

// A CheckpointStore persists the global position up to which each projection
// has been applied.
type CheckpointStore interface {
	// Save stores the checkpoint of a projection.
	Save(ctx context.Context, projection string, pos int64) error

	// Load returns the checkpoint of a projection, or 0 if the projection has
	// no checkpoint yet.
	Load(ctx context.Context, projection string) (int64, error)
}

// MemoryCheckpoints is an in-memory CheckpointStore.
type MemoryCheckpoints struct {
	mux sync.RWMutex
	pos map[string]int64
}

var _ CheckpointStore = (*MemoryCheckpoints)(nil)

// NewMemoryCheckpoints returns an in-memory checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{pos: make(map[string]int64)}
}

// Save implements CheckpointStore.
func (s *MemoryCheckpoints) Save(ctx context.Context, projection string, pos int64) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.pos[projection] = pos
	return nil
}

// Load implements CheckpointStore.
func (s *MemoryCheckpoints) Load(ctx context.Context, projection string) (int64, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.pos[projection], nil
}
