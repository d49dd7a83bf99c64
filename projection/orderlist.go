package projection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/order"
	"golang.org/x/exp/slices"
)

// An OrderEntry is one row of the order list read model. Money fields are in
// minor currency units.
type OrderEntry struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	Status        string
	CustomerName  string
	ServingType   string
	PaymentStatus string
	Subtotal      int64
	Discount      int64
	Tax           int64
	Tip           int64
	Total         int64
	UpdatedAt     time.Time
}

// OrderList is a read model listing every order with its current status and
// totals.
type OrderList struct {
	mux     sync.RWMutex
	entries map[uuid.UUID]*OrderEntry
	folds   map[uuid.UUID]*order.Order
}

var _ Projection = (*OrderList)(nil)

// NewOrderList returns an empty order list.
func NewOrderList() *OrderList {
	l := &OrderList{}
	l.Reset()
	return l
}

// Name implements Projection.
func (l *OrderList) Name() string { return "order_list" }

// Reset implements Projection.
func (l *OrderList) Reset() error {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.entries = make(map[uuid.UUID]*OrderEntry)
	l.folds = make(map[uuid.UUID]*order.Order)
	return nil
}

// Get returns the entry of the given order.
func (l *OrderList) Get(id uuid.UUID) (OrderEntry, bool) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	entry, ok := l.entries[id]
	if !ok {
		return OrderEntry{}, false
	}
	return *entry, true
}

// All returns every entry, sorted by last update, most recent first.
func (l *OrderList) All() []OrderEntry {
	l.mux.RLock()
	defer l.mux.RUnlock()
	out := make([]OrderEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}
	slices.SortFunc(out, func(a, b OrderEntry) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	return out
}

// ByStatus returns every entry in the given status.
func (l *OrderList) ByStatus(status string) []OrderEntry {
	var out []OrderEntry
	for _, entry := range l.All() {
		if entry.Status == status {
			out = append(out, entry)
		}
	}
	return out
}

// ApplyEvent implements Projection. The order aggregate fold already derives
// totals and status deterministically, so the read model reuses it instead
// of duplicating the money rules.
func (l *OrderList) ApplyEvent(evt event.Event) error {
	if evt.AggregateName() != order.AggregateName {
		return nil
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	id := evt.AggregateID()

	fold, ok := l.folds[id]
	if !ok {
		fold = order.New(id)
		l.folds[id] = fold
	}
	fold.ApplyEvent(evt)

	totals := fold.Totals()
	l.entries[id] = &OrderEntry{
		ID:            id,
		SessionID:     fold.SessionID(),
		Status:        fold.Status().String(),
		CustomerName:  fold.CustomerName(),
		ServingType:   fold.ServingType(),
		PaymentStatus: fold.PaymentStatus(),
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		Tax:           totals.Tax,
		Tip:           totals.Tip,
		Total:         totals.Total,
		UpdatedAt:     evt.Time(),
	}

	return nil
}
