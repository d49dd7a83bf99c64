// Package history implements the event stream inspection service: annotated
// timelines, time travel and per-stream statistics.
//
// Time travel uses the exact same fold as live aggregates. The state of a
// stream at a timestamp is obtained by replaying the events recorded at or
// before it, which makes historical states exactly as authoritative as
// current ones.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventlog"
	"github.com/jpkontreras/orderflow/order"
	"github.com/jpkontreras/orderflow/ordersession"
)

// ErrUnknownAggregate is returned when time traveling a stream whose
// aggregate name has no registered factory.
var ErrUnknownAggregate = errors.New("unknown aggregate")

// A Factory constructs an empty aggregate for a stream so that its events
// can be folded into it.
type Factory func(id uuid.UUID) aggregate.Aggregate

// An Entry is one annotated event of a timeline.
type Entry struct {
	Sequence    int
	Name        string
	Time        time.Time
	Description string
	Data        any
	Metadata    event.Metadata
}

// Statistics summarize one event stream.
type Statistics struct {
	StreamID   uuid.UUID
	EventCount int
	ByName     map[string]int
	First      time.Time
	Last       time.Time
	Duration   time.Duration
}

// Service reads event streams from the log and answers questions about
// their past.
type Service struct {
	log       eventlog.Log
	factories map[string]Factory
}

// Option is a Service option.
type Option func(*Service)

// WithAggregate returns an Option that registers a factory for the given
// aggregate name, enabling time travel for its streams.
func WithAggregate(name string, factory Factory) Option {
	return func(svc *Service) {
		svc.factories[name] = factory
	}
}

// NewService returns a history service. Factories for the session and order
// aggregates are registered out of the box.
func NewService(log eventlog.Log, opts ...Option) *Service {
	svc := &Service{
		log: log,
		factories: map[string]Factory{
			ordersession.AggregateName: func(id uuid.UUID) aggregate.Aggregate { return ordersession.New(id) },
			order.AggregateName:        func(id uuid.UUID) aggregate.Aggregate { return order.New(id) },
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Timeline returns the complete event stream of an aggregate as annotated
// entries, oldest first.
func (svc *Service) Timeline(ctx context.Context, streamID uuid.UUID) ([]Entry, error) {
	events, err := svc.readStream(ctx, streamID, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(events))
	for i, evt := range events {
		entries[i] = Entry{
			Sequence:    evt.AggregateVersion(),
			Name:        evt.Name(),
			Time:        evt.Time(),
			Description: Describe(evt),
			Data:        evt.Data(),
			Metadata:    evt.Metadata(),
		}
	}
	return entries, nil
}

// StateAt reconstructs the state of an aggregate as it was at the given
// time, by folding the events recorded at or before it. Events recorded
// after the timestamp are ignored entirely.
func (svc *Service) StateAt(ctx context.Context, aggregateName string, streamID uuid.UUID, at time.Time) (aggregate.Aggregate, error) {
	factory, ok := svc.factories[aggregateName]
	if !ok {
		return nil, fmt.Errorf("%q: %w", aggregateName, ErrUnknownAggregate)
	}

	events, err := svc.readStream(ctx, streamID, 0)
	if err != nil {
		return nil, err
	}

	var history []event.Event
	for _, evt := range events {
		if evt.Time().After(at) {
			break
		}
		history = append(history, evt)
	}

	a := factory(streamID)
	aggregate.ApplyHistory(a, history...)

	return a, nil
}

// ReplayBetween returns the events of a stream with sequences in the given
// inclusive range.
func (svc *Service) ReplayBetween(ctx context.Context, streamID uuid.UUID, from, to int) ([]event.Event, error) {
	if from < 1 {
		from = 1
	}

	events, err := svc.readStream(ctx, streamID, from-1)
	if err != nil {
		return nil, err
	}

	var out []event.Event
	for _, evt := range events {
		if evt.AggregateVersion() > to {
			break
		}
		out = append(out, evt)
	}
	return out, nil
}

// Statistics returns per-stream statistics: event counts by name, first and
// last event times and the stream duration.
func (svc *Service) Statistics(ctx context.Context, streamID uuid.UUID) (Statistics, error) {
	events, err := svc.readStream(ctx, streamID, 0)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		StreamID:   streamID,
		EventCount: len(events),
		ByName:     make(map[string]int),
	}
	for _, evt := range events {
		stats.ByName[evt.Name()]++
	}
	if len(events) > 0 {
		stats.First = events[0].Time()
		stats.Last = events[len(events)-1].Time()
		stats.Duration = stats.Last.Sub(stats.First)
	}

	return stats, nil
}

func (svc *Service) readStream(ctx context.Context, streamID uuid.UUID, from int) ([]event.Event, error) {
	events, errs, err := svc.log.ReadStream(ctx, streamID, from)
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	history, err := eventlog.Drain(ctx, events, errs)
	if err != nil {
		return nil, fmt.Errorf("drain stream: %w", err)
	}
	return history, nil
}
