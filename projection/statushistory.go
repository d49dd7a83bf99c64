package projection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/order"
	"github.com/jpkontreras/orderflow/ordersession"
)

// A StatusChange is one status transition of an aggregate.
type StatusChange struct {
	Status string
	At     time.Time
}

// StatusHistory is a read model recording every status transition of every
// session and order, in order of occurrence.
type StatusHistory struct {
	mux     sync.RWMutex
	changes map[uuid.UUID][]StatusChange
}

var _ Projection = (*StatusHistory)(nil)

// NewStatusHistory returns an empty status history.
func NewStatusHistory() *StatusHistory {
	h := &StatusHistory{}
	h.Reset()
	return h
}

// Name implements Projection.
func (h *StatusHistory) Name() string { return "status_history" }

// Reset implements Projection.
func (h *StatusHistory) Reset() error {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.changes = make(map[uuid.UUID][]StatusChange)
	return nil
}

// Of returns the status transitions of the given aggregate, oldest first.
func (h *StatusHistory) Of(id uuid.UUID) []StatusChange {
	h.mux.RLock()
	defer h.mux.RUnlock()
	out := make([]StatusChange, len(h.changes[id]))
	copy(out, h.changes[id])
	return out
}

// ApplyEvent implements Projection. Only events that change the status of
// their aggregate are recorded; consecutive duplicates are collapsed.
func (h *StatusHistory) ApplyEvent(evt event.Event) error {
	status, ok := statusOf(evt)
	if !ok {
		return nil
	}

	h.mux.Lock()
	defer h.mux.Unlock()

	id := evt.AggregateID()
	if prev := h.changes[id]; len(prev) > 0 && prev[len(prev)-1].Status == status {
		return nil
	}
	h.changes[id] = append(h.changes[id], StatusChange{Status: status, At: evt.Time()})

	return nil
}

func statusOf(evt event.Event) (string, bool) {
	switch evt.Name() {
	case ordersession.SessionStarted:
		return ordersession.Initiated.String(), true
	case ordersession.ItemAddedToCart, ordersession.ItemRemovedFromCart, ordersession.CartItemModified:
		return ordersession.CartBuilding.String(), true
	case ordersession.CustomerInfoEntered, ordersession.ServingTypeSelected, ordersession.PaymentMethodSelected:
		return ordersession.DetailsCollecting.String(), true
	case ordersession.SessionConverted:
		return ordersession.Converted.String(), true
	case ordersession.SessionAbandoned:
		return ordersession.Abandoned.String(), true
	case order.OrderCreated:
		return order.Draft.String(), true
	case order.OrderPlaced:
		return order.Placed.String(), true
	case order.OrderConfirmed:
		return order.Confirmed.String(), true
	case order.PreparationStarted:
		return order.Preparing.String(), true
	case order.OrderReady:
		return order.Ready.String(), true
	case order.DeliveryStarted:
		return order.Delivering.String(), true
	case order.OrderDelivered:
		return order.Delivered.String(), true
	case order.OrderCompleted:
		return order.Completed.String(), true
	case order.OrderCancelled:
		return order.Cancelled.String(), true
	}
	return "", false
}
