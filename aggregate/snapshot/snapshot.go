// Package snapshot provides periodic serialization of aggregate state to
// bound replay cost. Snapshots are never authoritative: a snapshot is always
// paired with a replay of the events recorded after it, and a stale or
// corrupt snapshot is discarded without data loss.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no snapshot exists for a stream.
var ErrNotFound = errors.New("snapshot not found")

// A Snapshot is a serialized materialization of aggregate state at a given
// sequence.
type Snapshot struct {
	StreamID   uuid.UUID `bson:"streamId" json:"streamId"`
	StreamName string    `bson:"streamName" json:"streamName"`
	Sequence   int       `bson:"sequence" json:"sequence"`
	TakenAt    time.Time `bson:"takenAt" json:"takenAt"`
	State      []byte    `bson:"state" json:"state"`
}

// A Store persists snapshots.
type Store interface {
	// Save persists a snapshot, replacing any previous snapshot of the same
	// stream.
	Save(ctx context.Context, snap Snapshot) error

	// Latest returns the latest snapshot of the given stream, or ErrNotFound.
	Latest(ctx context.Context, streamID uuid.UUID) (Snapshot, error)

	// Delete removes the snapshot of the given stream. Deleting a
	// non-existent snapshot is a no-op.
	Delete(ctx context.Context, streamID uuid.UUID) error
}

// A Target is an aggregate that can be snapshotted and restored.
type Target interface {
	// MarshalSnapshot serializes the state of the aggregate.
	MarshalSnapshot() ([]byte, error)

	// UnmarshalSnapshot restores the state of the aggregate. An error marks
	// the snapshot as corrupt; the caller discards it and falls back to a
	// full replay.
	UnmarshalSnapshot([]byte) error

	// SetVersion sets the committed version of the aggregate after a restore.
	SetVersion(int)
}
