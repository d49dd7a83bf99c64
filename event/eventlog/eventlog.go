// Package eventlog defines the append-only event log that all aggregate state
// is derived from. The log stores immutable events in per-stream sequences
// with a global position for cross-stream catch-up.
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
)

var (
	// ErrVersionMismatch is returned by Log.Append when the expected version
	// does not match the current last sequence of the stream. The caller read
	// a stale stream and must re-read and retry the command.
	ErrVersionMismatch = errors.New("optimistic concurrency check failed")

	// ErrStreamNotFound is returned when reading a stream that has no events.
	ErrStreamNotFound = errors.New("stream not found")
)

// A Log is an append-only, per-stream ordered event store.
//
// Append is atomic across all events of a call: either every event is
// durably appended or none is. Events must carry contiguous sequences
// expectedVersion+1 .. expectedVersion+len(events); Append rejects the call
// with ErrVersionMismatch if expectedVersion is not the current last sequence
// of the stream.
type Log interface {
	// Append appends events to the stream with the given id. It returns the
	// new stream version (the sequence of the last appended event) or
	// ErrVersionMismatch if another writer appended first.
	Append(ctx context.Context, streamID uuid.UUID, streamName string, expectedVersion int, events []event.Event) (int, error)

	// ReadStream returns the events of a stream with sequence > from, in
	// sequence order. Pass from=0 to read the whole stream.
	ReadStream(ctx context.Context, streamID uuid.UUID, from int) (<-chan event.Event, <-chan error, error)

	// ReadAll returns up to limit events across all streams with a global
	// position > after, in global order. Projectors use ReadAll to catch up
	// after a restart. Pass limit <= 0 for no limit.
	ReadAll(ctx context.Context, after int64, limit int) ([]Stored, error)
}

// Stored is an event together with its global position in the log.
type Stored struct {
	Event event.Event

	// GlobalPos is the monotonic position of the event across all streams.
	GlobalPos int64
}

// A CorruptionError reports a broken stream: a gap in the sequence numbers of
// a stream. Corrupt streams must not be processed further; the error is fatal
// for the affected stream.
type CorruptionError struct {
	StreamID uuid.UUID
	Sequence int // sequence that was expected
	Got      int // sequence that was found
}

func (err *CorruptionError) Error() string {
	return fmt.Sprintf(
		"corrupt stream %s: expected sequence %d; got %d",
		err.StreamID, err.Sequence, err.Got,
	)
}

// Drain collects the events of a channel stream into a slice. It returns the
// collected events when the event channel is closed, or the first error that
// is received from the error channel.
func Drain(ctx context.Context, events <-chan event.Event, errs <-chan error) ([]event.Event, error) {
	var out []event.Event
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				return out, err
			}
			errs = nil
		case evt, ok := <-events:
			if !ok {
				return out, nil
			}
			out = append(out, evt)
		}
	}
}

// ValidateSequence checks that the given events form a contiguous sequence
// starting directly after version. It returns a *CorruptionError for the
// first event that breaks the sequence.
func ValidateSequence(streamID uuid.UUID, version int, events []event.Event) error {
	want := version
	for _, evt := range events {
		want++
		if evt.AggregateVersion() != want {
			return &CorruptionError{
				StreamID: streamID,
				Sequence: want,
				Got:      evt.AggregateVersion(),
			}
		}
	}
	return nil
}
