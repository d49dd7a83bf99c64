// Package natsbus provides an eventbus.Bus implementation backed by core
// NATS. Every event name maps to its own subject below a configurable
// subject prefix.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventbus"
	"github.com/nats-io/nats.go"
)

// Bus is a NATS event bus.
type Bus struct {
	onceConnect sync.Once
	url         string
	prefix      string
	conn        *nats.Conn
	reg         *event.Registry
}

var _ eventbus.Bus = (*Bus)(nil)

// Option is an option for the NATS event bus.
type Option func(*Bus)

// URL returns an Option that specifies the NATS server URL. If unset,
// os.Getenv("NATS_URL") is used, falling back to nats.DefaultURL.
func URL(url string) Option {
	return func(b *Bus) {
		b.url = url
	}
}

// SubjectPrefix returns an Option that configures the subject prefix for
// event subjects. Defaults to "orderflow.events".
func SubjectPrefix(prefix string) Option {
	return func(b *Bus) {
		b.prefix = prefix
	}
}

// Conn returns an Option that provides an existing NATS connection to the
// bus. When used, the URL option has no effect.
func Conn(conn *nats.Conn) Option {
	return func(b *Bus) {
		b.conn = conn
	}
}

// New returns a new NATS event bus that uses reg to encode and decode event
// payloads.
func New(reg *event.Registry, opts ...Option) *Bus {
	b := &Bus{
		reg:    reg,
		prefix: "orderflow.events",
		url:    os.Getenv("NATS_URL"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect connects to the NATS server. Connect is automatically called from
// Publish and Subscribe if not called explicitly.
func (b *Bus) Connect(ctx context.Context) error {
	var err error
	b.onceConnect.Do(func() {
		if b.conn != nil {
			return
		}
		url := b.url
		if url == "" {
			url = nats.DefaultURL
		}
		b.conn, err = nats.Connect(url)
		if err != nil {
			err = fmt.Errorf("connect to nats: %w [url=%s]", err, url)
		}
	})
	return err
}

type envelope struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	TimeNanos     int64           `json:"time"`
	StreamID      uuid.UUID       `json:"streamId"`
	StreamName    string          `json:"streamName"`
	Sequence      int             `json:"seq"`
	CauserID      string          `json:"causerId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// Publish implements eventbus.Bus.
func (b *Bus) Publish(ctx context.Context, events ...event.Event) error {
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for _, evt := range events {
		data, err := b.reg.Marshal(evt.Data())
		if err != nil {
			return fmt.Errorf("marshal %q payload: %w", evt.Name(), err)
		}

		meta := evt.Metadata()
		env := envelope{
			ID:            evt.ID(),
			Name:          evt.Name(),
			TimeNanos:     evt.Time().UnixNano(),
			StreamID:      evt.AggregateID(),
			StreamName:    evt.AggregateName(),
			Sequence:      evt.AggregateVersion(),
			CauserID:      meta.CauserID,
			CorrelationID: meta.CorrelationID,
			Data:          data,
		}

		msg, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}

		if err := b.conn.Publish(b.subject(evt.Name()), msg); err != nil {
			return fmt.Errorf("publish %q event: %w", evt.Name(), err)
		}
	}

	return nil
}

// Subscribe implements eventbus.Bus.
func (b *Bus) Subscribe(ctx context.Context, names ...string) (<-chan event.Event, error) {
	if err := b.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	msgs := make(chan *nats.Msg, 256)
	subs := make([]*nats.Subscription, 0, len(names))
	for _, name := range names {
		sub, err := b.conn.ChanSubscribe(b.subject(name), msgs)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe to %q events: %w", name, err)
		}
		subs = append(subs, sub)
	}

	out := make(chan event.Event)

	go func() {
		defer close(out)
		defer func() {
			for _, sub := range subs {
				sub.Unsubscribe()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				evt, err := b.decode(msg.Data)
				if err != nil {
					// Undecodable messages are dropped; the projector
					// catches up from the log instead.
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- evt:
				}
			}
		}
	}()

	return out, nil
}

func (b *Bus) decode(data []byte) (event.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	payload, err := b.reg.Unmarshal(env.Data, env.Name)
	if err != nil {
		return nil, fmt.Errorf("decode %q payload: %w", env.Name, err)
	}

	return event.New(
		env.Name,
		payload,
		event.ID(env.ID),
		event.Time(time.Unix(0, env.TimeNanos)),
		event.Aggregate(env.StreamID, env.StreamName, env.Sequence),
		event.WithMetadata(event.Metadata{
			CauserID:      env.CauserID,
			CorrelationID: env.CorrelationID,
		}),
	), nil
}

func (b *Bus) subject(name string) string {
	return b.prefix + "." + name
}
