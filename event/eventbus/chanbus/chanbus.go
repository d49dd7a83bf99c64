// Package chanbus provides an in-process eventbus.Bus implementation using
// channels.
package chanbus

import (
	"context"
	"sync"

	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventbus"
)

type bus struct {
	mux  sync.RWMutex
	subs map[string][]*subscription
}

type subscription struct {
	ctx context.Context
	out chan event.Event
}

// New returns a Bus that communicates over channels.
func New() eventbus.Bus {
	return &bus{
		subs: make(map[string][]*subscription),
	}
}

// Publish sends events to the channels that have been returned by previous
// calls to Subscribe where the subscribed event name matches evt.Name().
// Delivery to a subscriber that stopped receiving is dropped when the
// subscriber's context is canceled.
func (b *bus) Publish(ctx context.Context, events ...event.Event) error {
	for _, evt := range events {
		b.mux.RLock()
		subs := append([]*subscription(nil), b.subs[evt.Name()]...)
		b.mux.RUnlock()

		for _, sub := range subs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sub.ctx.Done():
			case sub.out <- evt:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of events. For every published event evt where
// evt.Name() is one of names, that event will be received from the returned
// channel. When ctx is canceled, the channel is removed from the bus and
// closed.
func (b *bus) Subscribe(ctx context.Context, names ...string) (<-chan event.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sub := &subscription{
		ctx: ctx,
		out: make(chan event.Event, 256),
	}

	b.mux.Lock()
	for _, name := range names {
		b.subs[name] = append(b.subs[name], sub)
	}
	b.mux.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub, names)
		close(sub.out)
	}()

	return sub.out, nil
}

func (b *bus) remove(sub *subscription, names []string) {
	b.mux.Lock()
	defer b.mux.Unlock()
	for _, name := range names {
		subs := b.subs[name]
		for i, s := range subs {
			if s == sub {
				b.subs[name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}
