// Package ordersession implements the OrderSession aggregate: an in-progress
// cart that is eventually converted into an order or abandoned.
package ordersession

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
)

// AggregateName is the stream name of the session aggregate.
const AggregateName = "order_session"

var (
	// ErrItemNotInCart is returned when removing or modifying an item that is
	// not in the cart.
	ErrItemNotInCart = errors.New("item not in cart")

	// ErrEmptyCart is returned when checking out a session with an empty cart.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrNotStarted is returned when issuing a command against a session whose
	// stream has no events.
	ErrNotStarted = errors.New("session not started")
)

// Status is the state of a session.
type Status int

// The session state machine, initial state Initiated:
//
//	Initiated         -> CartBuilding        on the first cart mutation
//	CartBuilding      -> CartBuilding        on add/remove/modify cart item
//	CartBuilding      -> DetailsCollecting   on customer info / serving type
//	DetailsCollecting -> Converted           on checkout
//	any non-terminal  -> Abandoned           on abandon (idle timeout or explicit)
//
// Abandoned and Converted are terminal.
const (
	Initiated = Status(iota)
	CartBuilding
	DetailsCollecting
	Abandoned
	Converted
)

func (s Status) String() string {
	switch s {
	case Initiated:
		return "initiated"
	case CartBuilding:
		return "cart_building"
	case DetailsCollecting:
		return "details_collecting"
	case Abandoned:
		return "abandoned"
	case Converted:
		return "converted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status accepts no further mutating commands.
func (s Status) Terminal() bool {
	return s == Abandoned || s == Converted
}

// A CartItem is a line of the cart. UnitPrice is the price snapshot recorded
// when the item was added, in minor currency units.
type CartItem struct {
	ItemID    string   `json:"itemId"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	UnitPrice int64    `json:"unitPrice"`
	Modifiers []string `json:"modifiers,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// CustomerInfo is the incrementally collected customer information.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Session is the OrderSession aggregate.
type Session struct {
	*aggregate.Base

	status         Status
	cart           []CartItem
	customer       CustomerInfo
	servingType    string
	paymentMethod  string
	orderID        uuid.UUID
	lastActivityAt time.Time
}

// New returns the session with the given id. The returned session has no
// state; use a Repository to fetch its events.
func New(id uuid.UUID) *Session {
	return &Session{
		Base: aggregate.New(AggregateName, id),
	}
}

// Status returns the status of the session.
func (s *Session) Status() Status { return s.status }

// CartItems returns the items of the cart, in insertion order.
func (s *Session) CartItems() []CartItem {
	items := make([]CartItem, len(s.cart))
	copy(items, s.cart)
	return items
}

// Customer returns the collected customer information.
func (s *Session) Customer() CustomerInfo { return s.customer }

// ServingType returns the selected serving type.
func (s *Session) ServingType() string { return s.servingType }

// PaymentMethod returns the selected payment method.
func (s *Session) PaymentMethod() string { return s.paymentMethod }

// OrderID returns the id of the order the session was converted into, or
// uuid.Nil if the session has not been converted.
func (s *Session) OrderID() uuid.UUID { return s.orderID }

// LastActivityAt returns the time of the last recorded event.
func (s *Session) LastActivityAt() time.Time { return s.lastActivityAt }

// Subtotal returns the sum of the cart lines, in minor currency units.
func (s *Session) Subtotal() int64 {
	var sum int64
	for _, item := range s.cart {
		sum += int64(item.Quantity) * item.UnitPrice
	}
	return sum
}

// Started reports whether the session stream has any events.
func (s *Session) Started() bool {
	return s.AggregateVersion() > 0 || len(s.AggregateChanges()) > 0
}

// Start starts the session. Starting an already started session is not
// allowed.
func (s *Session) Start(meta event.Metadata) error {
	if s.Started() {
		return s.transitionError("start")
	}
	aggregate.Next(s, SessionStarted, StartedData{}, event.WithMetadata(meta))
	return nil
}

// AddItem adds a catalog item to the cart, snapshotting its current price
// into the emitted event. The item must have been validated against the
// catalog by the caller.
func (s *Session) AddItem(item catalog.Item, quantity int, modifiers []string, notes string, meta event.Metadata) error {
	if err := s.guard("add_item", Initiated, CartBuilding); err != nil {
		return err
	}
	aggregate.Next(s, ItemAddedToCart, ItemAddedData{
		ItemID:    item.ID,
		Name:      item.Name,
		Quantity:  quantity,
		UnitPrice: item.CurrentPrice,
		Modifiers: modifiers,
		Notes:     notes,
	}, event.WithMetadata(meta))
	return nil
}

// RemoveItem removes an item from the cart. Removing an item that is not in
// the cart fails with ErrItemNotInCart and emits nothing.
func (s *Session) RemoveItem(itemID string, meta event.Metadata) error {
	if err := s.guard("remove_item", Initiated, CartBuilding); err != nil {
		return err
	}
	if !s.inCart(itemID) {
		return ErrItemNotInCart
	}
	aggregate.Next(s, ItemRemovedFromCart, ItemRemovedData{ItemID: itemID}, event.WithMetadata(meta))
	return nil
}

// ModifyItem changes the quantity, modifiers or notes of a cart item.
// Modifying an item that is not in the cart fails with ErrItemNotInCart.
func (s *Session) ModifyItem(itemID string, quantity int, modifiers []string, notes string, meta event.Metadata) error {
	if err := s.guard("modify_item", Initiated, CartBuilding); err != nil {
		return err
	}
	if !s.inCart(itemID) {
		return ErrItemNotInCart
	}
	aggregate.Next(s, CartItemModified, ItemModifiedData{
		ItemID:    itemID,
		Quantity:  quantity,
		Modifiers: modifiers,
		Notes:     notes,
	}, event.WithMetadata(meta))
	return nil
}

// EnterCustomerInfo records customer information. Empty fields leave the
// previously entered values untouched.
func (s *Session) EnterCustomerInfo(info CustomerInfo, meta event.Metadata) error {
	if err := s.guard("enter_customer_info", CartBuilding, DetailsCollecting); err != nil {
		return err
	}
	aggregate.Next(s, CustomerInfoEntered, CustomerInfoData(info), event.WithMetadata(meta))
	return nil
}

// SelectServingType records the serving type of the session.
func (s *Session) SelectServingType(servingType string, meta event.Metadata) error {
	if err := s.guard("select_serving_type", CartBuilding, DetailsCollecting); err != nil {
		return err
	}
	aggregate.Next(s, ServingTypeSelected, ServingTypeData{ServingType: servingType}, event.WithMetadata(meta))
	return nil
}

// SelectPaymentMethod records the payment method of the session.
func (s *Session) SelectPaymentMethod(method string, meta event.Metadata) error {
	if err := s.guard("select_payment_method", DetailsCollecting); err != nil {
		return err
	}
	aggregate.Next(s, PaymentMethodSelected, PaymentMethodData{Method: method}, event.WithMetadata(meta))
	return nil
}

// Checkout converts the session into an order with the given id and returns
// the bound order id.
//
// Checkout is idempotent: checking out an already converted session emits no
// event and returns the order id that was bound by the first checkout, so
// that retried requests never create duplicate orders.
func (s *Session) Checkout(orderID uuid.UUID, meta event.Metadata) (uuid.UUID, error) {
	if s.status == Converted {
		return s.orderID, nil
	}
	if err := s.guard("checkout", DetailsCollecting); err != nil {
		return uuid.Nil, err
	}
	if len(s.cart) == 0 {
		return uuid.Nil, ErrEmptyCart
	}
	aggregate.Next(s, SessionConverted, ConvertedData{OrderID: orderID}, event.WithMetadata(meta))
	return orderID, nil
}

// Abandon marks the session as abandoned. Abandoning a session that is
// already terminal is a no-op, which makes the idle sweep safe to run
// concurrently from multiple workers.
func (s *Session) Abandon(reason string, meta event.Metadata) error {
	if !s.Started() {
		return ErrNotStarted
	}
	if s.status.Terminal() {
		return nil
	}
	aggregate.Next(s, SessionAbandoned, AbandonedData{Reason: reason}, event.WithMetadata(meta))
	return nil
}

func (s *Session) inCart(itemID string) bool {
	for _, item := range s.cart {
		if item.ItemID == itemID {
			return true
		}
	}
	return false
}

func (s *Session) guard(command string, allowed ...Status) error {
	if !s.Started() {
		return ErrNotStarted
	}
	for _, status := range allowed {
		if s.status == status {
			return nil
		}
	}
	return s.transitionError(command)
}

func (s *Session) transitionError(command string) error {
	return &aggregate.TransitionError{
		Aggregate: AggregateName,
		Command:   command,
		State:     s.status.String(),
	}
}

// ApplyEvent implements aggregate.Aggregate. The fold is an exhaustive switch
// over the payloads of the session aggregate and must stay deterministic:
// replaying the same events always yields the same state.
func (s *Session) ApplyEvent(evt event.Event) {
	switch data := evt.Data().(type) {
	case StartedData:
		s.status = Initiated
	case ItemAddedData:
		s.status = CartBuilding
		s.cart = append(s.cart, CartItem(data))
	case ItemRemovedData:
		s.status = CartBuilding
		for i, item := range s.cart {
			if item.ItemID == data.ItemID {
				s.cart = append(s.cart[:i], s.cart[i+1:]...)
				break
			}
		}
	case ItemModifiedData:
		s.status = CartBuilding
		for i, item := range s.cart {
			if item.ItemID == data.ItemID {
				s.cart[i].Quantity = data.Quantity
				s.cart[i].Modifiers = data.Modifiers
				s.cart[i].Notes = data.Notes
				break
			}
		}
	case CustomerInfoData:
		s.status = DetailsCollecting
		if data.Name != "" {
			s.customer.Name = data.Name
		}
		if data.Phone != "" {
			s.customer.Phone = data.Phone
		}
		if data.Email != "" {
			s.customer.Email = data.Email
		}
	case ServingTypeData:
		s.status = DetailsCollecting
		s.servingType = data.ServingType
	case PaymentMethodData:
		s.status = DetailsCollecting
		s.paymentMethod = data.Method
	case ConvertedData:
		s.status = Converted
		s.orderID = data.OrderID
	case AbandonedData:
		s.status = Abandoned
	}
	s.lastActivityAt = evt.Time()
}

// sessionState is the serialized form of a session snapshot.
type sessionState struct {
	Status         Status       `json:"status"`
	Cart           []CartItem   `json:"cart,omitempty"`
	Customer       CustomerInfo `json:"customer"`
	ServingType    string       `json:"servingType,omitempty"`
	PaymentMethod  string       `json:"paymentMethod,omitempty"`
	OrderID        uuid.UUID    `json:"orderId,omitempty"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
}

// MarshalSnapshot implements snapshot.Target.
func (s *Session) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(sessionState{
		Status:         s.status,
		Cart:           s.cart,
		Customer:       s.customer,
		ServingType:    s.servingType,
		PaymentMethod:  s.paymentMethod,
		OrderID:        s.orderID,
		LastActivityAt: s.lastActivityAt,
	})
}

// UnmarshalSnapshot implements snapshot.Target.
func (s *Session) UnmarshalSnapshot(b []byte) error {
	var state sessionState
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	s.status = state.Status
	s.cart = state.Cart
	s.customer = state.Customer
	s.servingType = state.ServingType
	s.paymentMethod = state.PaymentMethod
	s.orderID = state.OrderID
	s.lastActivityAt = state.LastActivityAt
	return nil
}
