package projection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/ordersession"
	"golang.org/x/exp/slices"
)

// A SessionEntry is one row of the session list read model. Subtotal is in
// minor currency units.
type SessionEntry struct {
	ID             uuid.UUID
	Status         string
	ItemCount      int
	Subtotal       int64
	CustomerName   string
	ServingType    string
	OrderID        uuid.UUID
	LastActivityAt time.Time
}

// SessionList is a read model listing every session with its current status
// and cart summary. The idle sweeper scans it for sessions to abandon.
type SessionList struct {
	mux     sync.RWMutex
	entries map[uuid.UUID]*SessionEntry
	carts   map[uuid.UUID]map[string]int
	prices  map[uuid.UUID]map[string]int64
}

var _ Projection = (*SessionList)(nil)

// NewSessionList returns an empty session list.
func NewSessionList() *SessionList {
	s := &SessionList{}
	s.Reset()
	return s
}

// Name implements Projection.
func (s *SessionList) Name() string { return "session_list" }

// Reset implements Projection.
func (s *SessionList) Reset() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.entries = make(map[uuid.UUID]*SessionEntry)
	s.carts = make(map[uuid.UUID]map[string]int)
	s.prices = make(map[uuid.UUID]map[string]int64)
	return nil
}

// Get returns the entry of the given session.
func (s *SessionList) Get(id uuid.UUID) (SessionEntry, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return SessionEntry{}, false
	}
	return *entry, true
}

// All returns every entry, sorted by last activity, most recent first.
func (s *SessionList) All() []SessionEntry {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]SessionEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	slices.SortFunc(out, func(a, b SessionEntry) bool {
		return a.LastActivityAt.After(b.LastActivityAt)
	})
	return out
}

// IdleSince returns the non-terminal sessions whose last activity is at or
// before the given time.
func (s *SessionList) IdleSince(t time.Time) []SessionEntry {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []SessionEntry
	for _, entry := range s.entries {
		if entry.Status == ordersession.Abandoned.String() || entry.Status == ordersession.Converted.String() {
			continue
		}
		if !entry.LastActivityAt.After(t) {
			out = append(out, *entry)
		}
	}
	return out
}

// ApplyEvent implements Projection.
func (s *SessionList) ApplyEvent(evt event.Event) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if evt.AggregateName() != ordersession.AggregateName {
		return nil
	}
	id := evt.AggregateID()

	entry, ok := s.entries[id]
	if !ok {
		entry = &SessionEntry{ID: id, Status: ordersession.Initiated.String()}
		s.entries[id] = entry
		s.carts[id] = make(map[string]int)
		s.prices[id] = make(map[string]int64)
	}

	switch data := evt.Data().(type) {
	case ordersession.StartedData:
		entry.Status = ordersession.Initiated.String()
	case ordersession.ItemAddedData:
		entry.Status = ordersession.CartBuilding.String()
		s.carts[id][data.ItemID] += data.Quantity
		s.prices[id][data.ItemID] = data.UnitPrice
	case ordersession.ItemRemovedData:
		entry.Status = ordersession.CartBuilding.String()
		delete(s.carts[id], data.ItemID)
		delete(s.prices[id], data.ItemID)
	case ordersession.ItemModifiedData:
		entry.Status = ordersession.CartBuilding.String()
		if _, ok := s.carts[id][data.ItemID]; ok {
			s.carts[id][data.ItemID] = data.Quantity
		}
	case ordersession.CustomerInfoData:
		entry.Status = ordersession.DetailsCollecting.String()
		if data.Name != "" {
			entry.CustomerName = data.Name
		}
	case ordersession.ServingTypeData:
		entry.Status = ordersession.DetailsCollecting.String()
		entry.ServingType = data.ServingType
	case ordersession.PaymentMethodData:
		entry.Status = ordersession.DetailsCollecting.String()
	case ordersession.ConvertedData:
		entry.Status = ordersession.Converted.String()
		entry.OrderID = data.OrderID
	case ordersession.AbandonedData:
		entry.Status = ordersession.Abandoned.String()
	default:
		return nil
	}

	entry.ItemCount = 0
	entry.Subtotal = 0
	for itemID, qty := range s.carts[id] {
		entry.ItemCount += qty
		entry.Subtotal += int64(qty) * s.prices[id][itemID]
	}
	entry.LastActivityAt = evt.Time()

	return nil
}
