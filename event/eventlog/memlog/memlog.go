// Package memlog provides an in-memory eventlog.Log, used by tests and by the
// demo mode of the CLI.
package memlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventlog"
)

// Log is an in-memory event log. Appends are serialized through a mutex;
// subscribers are notified synchronously after an append succeeds.
type Log struct {
	mux     sync.RWMutex
	streams map[uuid.UUID][]event.Event
	global  []eventlog.Stored
	pos     int64
	subs    []func(eventlog.Stored)
}

var _ eventlog.Log = (*Log)(nil)

// New returns a new in-memory event log.
func New() *Log {
	return &Log{
		streams: make(map[uuid.UUID][]event.Event),
	}
}

// Append implements eventlog.Log.
func (l *Log) Append(ctx context.Context, streamID uuid.UUID, streamName string, expectedVersion int, events []event.Event) (int, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	l.mux.Lock()

	stream := l.streams[streamID]
	if len(stream) != expectedVersion {
		l.mux.Unlock()
		return 0, fmt.Errorf(
			"append to %q stream %s: %w [expected=%d current=%d]",
			streamName, streamID, eventlog.ErrVersionMismatch, expectedVersion, len(stream),
		)
	}

	if err := eventlog.ValidateSequence(streamID, expectedVersion, events); err != nil {
		l.mux.Unlock()
		return 0, err
	}

	var appended []eventlog.Stored
	for _, evt := range events {
		l.pos++
		stored := eventlog.Stored{Event: evt, GlobalPos: l.pos}
		l.streams[streamID] = append(l.streams[streamID], evt)
		l.global = append(l.global, stored)
		appended = append(appended, stored)
	}
	newVersion := len(l.streams[streamID])
	subs := make([]func(eventlog.Stored), len(l.subs))
	copy(subs, l.subs)

	l.mux.Unlock()

	// Notify outside the lock so that subscribers may read the log.
	for _, stored := range appended {
		for _, sub := range subs {
			sub(stored)
		}
	}

	return newVersion, nil
}

// ReadStream implements eventlog.Log.
func (l *Log) ReadStream(ctx context.Context, streamID uuid.UUID, from int) (<-chan event.Event, <-chan error, error) {
	l.mux.RLock()
	stream, ok := l.streams[streamID]
	events := make([]event.Event, len(stream))
	copy(events, stream)
	l.mux.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("stream %s: %w", streamID, eventlog.ErrStreamNotFound)
	}

	out := make(chan event.Event)
	errs := make(chan error)

	go func() {
		defer close(out)
		defer close(errs)

		want := from
		for _, evt := range events {
			if evt.AggregateVersion() <= from {
				continue
			}
			want++
			if evt.AggregateVersion() != want {
				select {
				case <-ctx.Done():
				case errs <- &eventlog.CorruptionError{StreamID: streamID, Sequence: want, Got: evt.AggregateVersion()}:
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- evt:
			}
		}
	}()

	return out, errs, nil
}

// ReadAll implements eventlog.Log.
func (l *Log) ReadAll(ctx context.Context, after int64, limit int) ([]eventlog.Stored, error) {
	l.mux.RLock()
	defer l.mux.RUnlock()

	var out []eventlog.Stored
	for _, stored := range l.global {
		if stored.GlobalPos <= after {
			continue
		}
		out = append(out, stored)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Subscribe registers a function that is called for every appended event.
// The subscriber is called synchronously after the append succeeded, in
// global order.
func (l *Log) Subscribe(fn func(eventlog.Stored)) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.subs = append(l.subs, fn)
}

// Version returns the current version of a stream. A stream without events
// has version 0.
func (l *Log) Version(streamID uuid.UUID) int {
	l.mux.RLock()
	defer l.mux.RUnlock()
	return len(l.streams[streamID])
}
