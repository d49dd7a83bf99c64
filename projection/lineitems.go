package projection

import (
	"sync"

	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/order"
	"golang.org/x/exp/slices"
)

// An ItemStats row aggregates one catalog item across all orders. Revenue is
// in minor currency units and uses the price snapshots carried by the
// events, not current catalog prices.
type ItemStats struct {
	ItemID   string
	Name     string
	Quantity int
	Revenue  int64
	Orders   int
}

// LineItems is a read model aggregating ordered quantities and revenue per
// catalog item.
type LineItems struct {
	mux   sync.RWMutex
	stats map[string]*ItemStats
	seen  map[string]map[string]bool
}

var _ Projection = (*LineItems)(nil)

// NewLineItems returns an empty line item aggregation.
func NewLineItems() *LineItems {
	l := &LineItems{}
	l.Reset()
	return l
}

// Name implements Projection.
func (l *LineItems) Name() string { return "line_items" }

// Reset implements Projection.
func (l *LineItems) Reset() error {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.stats = make(map[string]*ItemStats)
	l.seen = make(map[string]map[string]bool)
	return nil
}

// Get returns the stats of the given item.
func (l *LineItems) Get(itemID string) (ItemStats, bool) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	stats, ok := l.stats[itemID]
	if !ok {
		return ItemStats{}, false
	}
	return *stats, true
}

// Top returns the items with the highest ordered quantity, up to n rows.
func (l *LineItems) Top(n int) []ItemStats {
	l.mux.RLock()
	defer l.mux.RUnlock()
	out := make([]ItemStats, 0, len(l.stats))
	for _, stats := range l.stats {
		out = append(out, *stats)
	}
	slices.SortFunc(out, func(a, b ItemStats) bool {
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ItemID < b.ItemID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ApplyEvent implements Projection.
func (l *LineItems) ApplyEvent(evt event.Event) error {
	var lines []order.Line
	switch data := evt.Data().(type) {
	case order.CreatedData:
		lines = data.Lines
	case order.ItemsAddedData:
		lines = data.Lines
	default:
		return nil
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	orderID := evt.AggregateID().String()
	for _, line := range lines {
		stats, ok := l.stats[line.ItemID]
		if !ok {
			stats = &ItemStats{ItemID: line.ItemID, Name: line.Name}
			l.stats[line.ItemID] = stats
		}
		stats.Quantity += line.Quantity
		stats.Revenue += int64(line.Quantity) * line.UnitPrice

		if l.seen[line.ItemID] == nil {
			l.seen[line.ItemID] = make(map[string]bool)
		}
		if !l.seen[line.ItemID][orderID] {
			l.seen[line.ItemID][orderID] = true
			stats.Orders++
		}
	}

	return nil
}
