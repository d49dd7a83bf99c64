// Package eventbus defines the bus that distributes appended events to the
// asynchronous parts of the system (projectors, the process manager). The bus
// is fire-and-forget: command acknowledgement never waits for subscribers.
package eventbus

import (
	"context"

	"github.com/jpkontreras/orderflow/event"
)

// A Bus publishes events to subscribers.
type Bus interface {
	// Publish sends events to every subscriber whose subscription includes
	// the name of the event.
	Publish(ctx context.Context, events ...event.Event) error

	// Subscribe returns a channel that receives every published event whose
	// name is one of names. The channel is closed when ctx is canceled.
	Subscribe(ctx context.Context, names ...string) (<-chan event.Event, error)
}
