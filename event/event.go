package event

import (
	"reflect"
	"sort"
	stdtime "time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/internal/xtime"
)

// An Event is an immutable fact that happened to an aggregate. Events are
// appended to the event log and are never mutated or deleted afterwards.
type Event interface {
	// ID returns the unique id of the event.
	ID() uuid.UUID
	// Name returns the name of the event.
	Name() string
	// Time returns the time at which the event was recorded.
	Time() stdtime.Time
	// Data returns the event payload.
	Data() any
	// Metadata returns the metadata that was attached to the event.
	Metadata() Metadata

	// AggregateID returns the id of the stream the event belongs to.
	AggregateID() uuid.UUID
	// AggregateName returns the name of the aggregate the event belongs to.
	AggregateName() string
	// AggregateVersion returns the per-stream sequence of the event.
	// Sequences start at 1 and are contiguous within a stream.
	AggregateVersion() int
}

// Metadata carries the non-payload attributes of an event.
type Metadata struct {
	// CauserID identifies who or what issued the command that produced the
	// event (a user id, a worker name, ...).
	CauserID string `json:"causerId,omitempty"`

	// CorrelationID groups events that belong to the same logical flow, e.g.
	// a take-order process.
	CorrelationID string `json:"correlationId,omitempty"`
}

// Option is an Event option.
type Option func(*evt)

type evt struct {
	id               uuid.UUID
	name             string
	time             stdtime.Time
	data             any
	meta             Metadata
	aggregateID      uuid.UUID
	aggregateName    string
	aggregateVersion int
}

// New creates an Event with the given name and payload. A UUID is generated
// for the event and its time is set to xtime.Now().
//
// Provide Options to override or add data to the event:
//
//	ID(uuid.UUID): use a custom UUID
//	Time(time.Time): use a custom time
//	Aggregate(uuid.UUID, string, int): link the event to a stream
//	WithMetadata(Metadata): attach causer/correlation metadata
func New(name string, data any, opts ...Option) Event {
	e := evt{
		id:   uuid.New(),
		name: name,
		time: xtime.Now(),
		data: data,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// ID returns an Option that overrides the auto-generated UUID of an event.
func ID(id uuid.UUID) Option {
	return func(e *evt) {
		e.id = id
	}
}

// Time returns an Option that overrides the auto-generated timestamp of an event.
func Time(t stdtime.Time) Option {
	return func(e *evt) {
		e.time = t
	}
}

// Aggregate returns an Option that links an event to the stream of the
// aggregate with the given id, name and version.
func Aggregate(id uuid.UUID, name string, version int) Option {
	return func(e *evt) {
		e.aggregateID = id
		e.aggregateName = name
		e.aggregateVersion = version
	}
}

// WithMetadata returns an Option that attaches metadata to an event.
func WithMetadata(meta Metadata) Option {
	return func(e *evt) {
		e.meta = meta
	}
}

// Previous returns an Option that links an event to the same stream as prev,
// with the version increased by 1.
func Previous(prev Event) Option {
	v := prev.AggregateVersion()
	if prev.AggregateID() != uuid.Nil {
		v++
	}
	return Aggregate(prev.AggregateID(), prev.AggregateName(), v)
}

func (e evt) ID() uuid.UUID            { return e.id }
func (e evt) Name() string             { return e.name }
func (e evt) Time() stdtime.Time       { return e.time }
func (e evt) Data() any                { return e.data }
func (e evt) Metadata() Metadata       { return e.meta }
func (e evt) AggregateID() uuid.UUID   { return e.aggregateID }
func (e evt) AggregateName() string    { return e.aggregateName }
func (e evt) AggregateVersion() int    { return e.aggregateVersion }

// Equal compares events and determines if they're equal. It works like a
// normal "==" comparison except for the Time field, which is compared with
// a.Time().Equal(b.Time()), and the Data field, which is compared deeply
// because payloads may contain slices.
func Equal(events ...Event) bool {
	if len(events) < 2 {
		return true
	}
	first := events[0]
	for _, e := range events[1:] {
		if (e == nil) != (first == nil) {
			return false
		}
		if !(e.ID() == first.ID() &&
			e.Name() == first.Name() &&
			e.Time().Equal(first.Time()) &&
			e.Metadata() == first.Metadata() &&
			reflect.DeepEqual(e.Data(), first.Data()) &&
			e.AggregateID() == first.AggregateID() &&
			e.AggregateName() == first.AggregateName() &&
			e.AggregateVersion() == first.AggregateVersion()) {
			return false
		}
	}
	return true
}

// SortByVersion sorts events by their stream sequence, lower versions first,
// and returns the sorted events. The input slice is not mutated.
func SortByVersion(events []Event) []Event {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AggregateVersion() < sorted[j].AggregateVersion()
	})
	return sorted
}

// SortByTime sorts events by their timestamp, earlier events first, and
// returns the sorted events. The input slice is not mutated.
func SortByTime(events []Event) []Event {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time().Before(sorted[j].Time())
	})
	return sorted
}
