package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpkontreras/orderflow/aggregate/snapshot"
	"github.com/jpkontreras/orderflow/event/eventbus"
	"github.com/jpkontreras/orderflow/event/eventlog"
)

// A Repository loads aggregates from the event log and saves their changes
// back into it. Saving is guarded by an optimistic concurrency check: the
// changes are appended at the committed version of the aggregate, and a
// concurrent writer that appended first makes Save fail with
// eventlog.ErrVersionMismatch.
type Repository struct {
	log           eventlog.Log
	bus           eventbus.Bus
	snapshots     snapshot.Store
	snapshotEvery int
}

// RepositoryOption is a Repository option.
type RepositoryOption func(*Repository)

// WithBus returns a RepositoryOption that publishes successfully appended
// events on the given bus. Publishing happens after the append succeeded and
// never blocks it; the event log remains the source of truth.
func WithBus(bus eventbus.Bus) RepositoryOption {
	return func(r *Repository) {
		r.bus = bus
	}
}

// WithSnapshots returns a RepositoryOption that stores a snapshot of an
// aggregate every `every` events and uses snapshots to bound replay cost when
// fetching.
func WithSnapshots(store snapshot.Store, every int) RepositoryOption {
	if every <= 0 {
		every = 100
	}
	return func(r *Repository) {
		r.snapshots = store
		r.snapshotEvery = every
	}
}

// NewRepository returns a Repository that reads from and appends to the
// given event log.
func NewRepository(log eventlog.Log, opts ...RepositoryOption) *Repository {
	r := &Repository{log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch reconstructs the state of the given aggregate by replaying its event
// stream. If a snapshot store is configured and the aggregate implements
// snapshot.Target, the latest snapshot is restored first and only the tail of
// the stream is replayed. A corrupt snapshot is deleted and Fetch falls back
// to a full replay.
//
// Fetching an aggregate whose stream has no events leaves the aggregate at
// version 0; a fresh aggregate is not an error.
func (r *Repository) Fetch(ctx context.Context, a Aggregate) error {
	if r.snapshots != nil {
		if target, ok := a.(snapshot.Target); ok {
			if err := r.restoreSnapshot(ctx, a, target); err != nil {
				return err
			}
		}
	}

	events, errs, err := r.log.ReadStream(ctx, a.AggregateID(), a.AggregateVersion())
	if err != nil {
		if errors.Is(err, eventlog.ErrStreamNotFound) {
			return nil
		}
		return fmt.Errorf("read stream: %w", err)
	}

	history, err := eventlog.Drain(ctx, events, errs)
	if err != nil {
		return fmt.Errorf("drain stream: %w", err)
	}

	ApplyHistory(a, history...)

	return nil
}

func (r *Repository) restoreSnapshot(ctx context.Context, a Aggregate, target snapshot.Target) error {
	snap, err := r.snapshots.Latest(ctx, a.AggregateID())
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	if err := target.UnmarshalSnapshot(snap.State); err != nil {
		// Corrupt snapshot. Discard it and fall back to full replay.
		if err := r.snapshots.Delete(ctx, a.AggregateID()); err != nil {
			return fmt.Errorf("delete corrupt snapshot: %w", err)
		}
		return nil
	}
	target.SetVersion(snap.Sequence)

	return nil
}

// Save appends the uncommitted changes of the aggregate to the event log,
// publishes them on the configured bus and commits the aggregate. Save
// returns an error that unwraps to eventlog.ErrVersionMismatch if a
// concurrent writer appended first; the aggregate is left unchanged so the
// caller can discard, re-fetch and retry.
func (r *Repository) Save(ctx context.Context, a Aggregate) error {
	changes := a.AggregateChanges()
	if len(changes) == 0 {
		return nil
	}

	newVersion, err := r.log.Append(ctx, a.AggregateID(), a.AggregateName(), a.AggregateVersion(), changes)
	if err != nil {
		return fmt.Errorf("append changes: %w", err)
	}

	if r.bus != nil {
		if err := r.bus.Publish(ctx, changes...); err != nil {
			return fmt.Errorf("publish changes: %w", err)
		}
	}

	oldVersion := a.AggregateVersion()
	if c, ok := a.(Committer); ok {
		c.Commit()
	}

	if r.snapshots != nil {
		if target, ok := a.(snapshot.Target); ok {
			if newVersion/r.snapshotEvery > oldVersion/r.snapshotEvery {
				if err := r.takeSnapshot(ctx, a, target, newVersion); err != nil {
					return fmt.Errorf("take snapshot: %w", err)
				}
			}
		}
	}

	return nil
}

func (r *Repository) takeSnapshot(ctx context.Context, a Aggregate, target snapshot.Target, version int) error {
	state, err := target.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return r.snapshots.Save(ctx, snapshot.Snapshot{
		StreamID:   a.AggregateID(),
		StreamName: a.AggregateName(),
		Sequence:   version,
		TakenAt:    time.Now(),
		State:      state,
	})
}

// Retry runs a command closure and retries it when it fails with
// eventlog.ErrVersionMismatch, up to maxTries times in total. The closure
// must re-fetch the aggregate on every run so that a retry operates on the
// current stream version. Any other error aborts the retries immediately.
func Retry(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	if maxTries < 1 {
		maxTries = 1
	}

	var err error
	for i := 0; i < maxTries; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, eventlog.ErrVersionMismatch) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}

	return fmt.Errorf("command conflicted %d times: %w", maxTries, err)
}
