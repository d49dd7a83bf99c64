// Package aggregate implements the write side of the system: aggregates whose
// state is derived purely by folding their event stream.
package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/internal/xtime"
)

// ErrInvalidTransition is the sentinel that every *TransitionError unwraps
// to. Commands that are not legal in the current state of an aggregate fail
// with this error and append zero events.
var ErrInvalidTransition = errors.New("invalid state transition")

// An Aggregate is an entity whose state is derived solely by folding its
// event stream.
type Aggregate interface {
	// AggregateID returns the id of the aggregate.
	AggregateID() uuid.UUID
	// AggregateName returns the name of the aggregate.
	AggregateName() string
	// AggregateVersion returns the committed version of the aggregate.
	AggregateVersion() int
	// AggregateChanges returns the uncommitted events of the aggregate.
	AggregateChanges() []event.Event
	// ApplyEvent folds an event into the state of the aggregate. ApplyEvent
	// must be deterministic and free of side effects: replaying the same
	// events always yields the same state.
	ApplyEvent(event.Event)
}

// A Committer commits and discards recorded changes. *Base implements
// Committer.
type Committer interface {
	// RecordChange records applied events as uncommitted changes.
	RecordChange(...event.Event)
	// Commit clears the recorded changes and sets the aggregate version to
	// the version of the last recorded change.
	Commit()
}

// TransitionError is returned when a command is not legal in the current
// state of an aggregate. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	Aggregate string
	Command   string
	State     string
}

func (err *TransitionError) Error() string {
	return fmt.Sprintf(
		"%s: %q command not allowed in %q state: %s",
		err.Aggregate, err.Command, err.State, ErrInvalidTransition,
	)
}

func (err *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Base can be embedded into aggregates to implement the bookkeeping parts of
// the Aggregate and Committer interfaces. The embedding type implements
// ApplyEvent itself, with an exhaustive switch over its event payloads.
type Base struct {
	ID      uuid.UUID
	Name    string
	Version int
	Changes []event.Event
}

// New returns a new base aggregate.
func New(name string, id uuid.UUID) *Base {
	return &Base{
		ID:   id,
		Name: name,
	}
}

// AggregateID returns the aggregate id.
func (b *Base) AggregateID() uuid.UUID { return b.ID }

// AggregateName returns the aggregate name.
func (b *Base) AggregateName() string { return b.Name }

// AggregateVersion returns the committed version of the aggregate.
func (b *Base) AggregateVersion() int { return b.Version }

// AggregateChanges returns the recorded changes.
func (b *Base) AggregateChanges() []event.Event { return b.Changes }

// RecordChange records applied changes to the aggregate.
func (b *Base) RecordChange(events ...event.Event) {
	b.Changes = append(b.Changes, events...)
}

// Commit clears the recorded changes and sets the aggregate version to the
// version of the last recorded change.
func (b *Base) Commit() {
	if len(b.Changes) == 0 {
		return
	}
	b.Version = b.Changes[len(b.Changes)-1].AggregateVersion()
	b.Changes = b.Changes[:0]
}

// DiscardChanges discards the recorded changes. The repository calls this
// method before retrying a conflicted command.
func (b *Base) DiscardChanges() {
	b.Changes = b.Changes[:0]
}

// SetVersion manually sets the version of the aggregate. Used when restoring
// an aggregate from a snapshot.
func (b *Base) SetVersion(v int) {
	b.Version = v
}

// CurrentVersion returns the version of the aggregate including uncommitted
// changes.
func CurrentVersion(a Aggregate) int {
	v := a.AggregateVersion()
	if changes := a.AggregateChanges(); len(changes) > 0 {
		if cv := changes[len(changes)-1].AggregateVersion(); cv > v {
			return cv
		}
	}
	return v
}

// NextVersion returns the sequence that the next event of the aggregate must
// have.
func NextVersion(a Aggregate) int {
	return CurrentVersion(a) + 1
}

// Next creates, applies and records the next event for the given aggregate:
//
//	var s *ordersession.Session
//	evt := aggregate.Next(s, "cart.item_added", <payload>)
func Next(a Aggregate, name string, data any, opts ...event.Option) event.Event {
	opts = append([]event.Option{
		event.Aggregate(a.AggregateID(), a.AggregateName(), NextVersion(a)),
		event.Time(nextTime(a)),
	}, opts...)

	evt := event.New(name, data, opts...)

	a.ApplyEvent(evt)
	if c, ok := a.(Committer); ok {
		c.RecordChange(evt)
	}

	return evt
}

// ApplyHistory folds already-persisted events into the aggregate and commits
// the resulting version. The events must be sorted by sequence.
func ApplyHistory(a Aggregate, events ...event.Event) {
	for _, evt := range events {
		a.ApplyEvent(evt)
	}
	if c, ok := a.(Committer); ok {
		c.RecordChange(events...)
		c.Commit()
	}
}

// nextTime returns the time for the next event of the given aggregate.
// The returned time is guaranteed to be at least 1 nanosecond after the time
// of the previous uncommitted event so that recordedAt stays strictly
// increasing within a command.
func nextTime(a Aggregate) time.Time {
	changes := a.AggregateChanges()
	now := xtime.Now()

	if len(changes) == 0 {
		if !xtime.SupportsNanoseconds() {
			out := now.Add(time.Microsecond)
			time.Sleep(time.Until(out))
			return out
		}
		return now
	}

	latest := changes[len(changes)-1].Time()
	if !now.After(latest) {
		out := latest.Add(time.Nanosecond)
		time.Sleep(time.Until(out))
		return out
	}

	return now
}
