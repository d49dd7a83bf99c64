// Package memsnap provides an in-memory snapshot.Store.
package memsnap

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate/snapshot"
)

type store struct {
	mux   sync.RWMutex
	snaps map[uuid.UUID]snapshot.Snapshot
}

// New returns a new in-memory snapshot store.
func New() snapshot.Store {
	return &store{
		snaps: make(map[uuid.UUID]snapshot.Snapshot),
	}
}

func (s *store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.snaps[snap.StreamID] = snap
	return nil
}

func (s *store) Latest(ctx context.Context, streamID uuid.UUID) (snapshot.Snapshot, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	snap, ok := s.snaps[streamID]
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("stream %s: %w", streamID, snapshot.ErrNotFound)
	}
	return snap, nil
}

func (s *store) Delete(ctx context.Context, streamID uuid.UUID) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.snaps, streamID)
	return nil
}
