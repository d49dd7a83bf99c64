// Package order implements the Order aggregate: an order created from a
// converted session, moving through the kitchen and delivery lifecycle.
// All money fields are integers in minor currency units; totals are
// recomputed from scratch on every change, never accumulated incrementally.
package order

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"golang.org/x/exp/slices"
)

// AggregateName is the stream name of the order aggregate.
const AggregateName = "order"

var (
	// ErrAlreadyCreated is returned when creating an order whose stream
	// already has events.
	ErrAlreadyCreated = errors.New("order already created")

	// ErrNotCreated is returned when issuing a command against an order whose
	// stream has no events.
	ErrNotCreated = errors.New("order not created")

	// ErrNotValidated is returned when confirming an order whose items have
	// not been validated yet.
	ErrNotValidated = errors.New("order items not validated")

	// ErrPromotionNotFound is returned when applying a promotion that the
	// promotion engine did not compute for this order, or removing a
	// promotion that is not applied.
	ErrPromotionNotFound = errors.New("promotion not found")
)

// Status is the state of an order.
type Status int

// The order state machine:
//
//	Draft -> Placed -> Confirmed -> Preparing -> Ready -> Delivering -> Delivered -> Completed
//	                                             Ready ----------------------------> Completed
//	        {Placed, Confirmed, Preparing, Ready} -> Cancelled
//
// Transitions are directional only: going backward or skipping intermediate
// states fails with a TransitionError. Cancelled and Completed are terminal.
const (
	Draft = Status(iota)
	Placed
	Confirmed
	Preparing
	Ready
	Delivering
	Delivered
	Completed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Draft:
		return "draft"
	case Placed:
		return "placed"
	case Confirmed:
		return "confirmed"
	case Preparing:
		return "preparing"
	case Ready:
		return "ready"
	case Delivering:
		return "delivering"
	case Delivered:
		return "delivered"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status accepts no further mutating commands.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled
}

// Prep sub-statuses of a line.
const (
	LinePending   = "pending"
	LinePreparing = "preparing"
	LineReady     = "ready"
)

// A Line is a line item of an order. UnitPrice is the price snapshot from
// the session, in minor currency units. Status is the kitchen/prep
// sub-status of the line.
type Line struct {
	ItemID    string   `json:"itemId"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	UnitPrice int64    `json:"unitPrice"`
	Modifiers []string `json:"modifiers,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// Totals are the money fields of an order, in minor currency units.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Tip      int64 `json:"tip"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// Order is the Order aggregate.
type Order struct {
	*aggregate.Base

	status         Status
	sessionID      uuid.UUID
	lines          []Line
	customerName   string
	servingType    string
	paymentMethod  string
	paymentStatus  string
	totals         Totals
	itemsValidated bool
	available      []catalog.Promotion
	applied        []catalog.Promotion
}

// New returns the order with the given id. The returned order has no state;
// use a Repository to fetch its events.
func New(id uuid.UUID) *Order {
	return &Order{
		Base: aggregate.New(AggregateName, id),
	}
}

// Status returns the status of the order.
func (o *Order) Status() Status { return o.status }

// SessionID returns the id of the session the order was created from.
func (o *Order) SessionID() uuid.UUID { return o.sessionID }

// Lines returns the line items of the order.
func (o *Order) Lines() []Line {
	lines := make([]Line, len(o.lines))
	copy(lines, o.lines)
	return lines
}

// Totals returns the money fields of the order.
func (o *Order) Totals() Totals { return o.totals }

// CustomerName returns the name of the customer.
func (o *Order) CustomerName() string { return o.customerName }

// ServingType returns the serving type of the order.
func (o *Order) ServingType() string { return o.servingType }

// PaymentMethod returns the payment method of the order.
func (o *Order) PaymentMethod() string { return o.paymentMethod }

// PaymentStatus returns the payment status of the order ("pending" or
// "paid").
func (o *Order) PaymentStatus() string { return o.paymentStatus }

// ItemsValidated reports whether the current items have been validated
// against the catalog. Adding items resets the flag.
func (o *Order) ItemsValidated() bool { return o.itemsValidated }

// AvailablePromotions returns the promotions the engine computed for the
// current items.
func (o *Order) AvailablePromotions() []catalog.Promotion {
	return slices.Clone(o.available)
}

// AppliedPromotions returns the promotions applied to the order.
func (o *Order) AppliedPromotions() []catalog.Promotion {
	return slices.Clone(o.applied)
}

// Created reports whether the order stream has any events.
func (o *Order) Created() bool {
	return o.AggregateVersion() > 0 || len(o.AggregateChanges()) > 0
}

// Create creates the order from the given session data. The order starts in
// the Draft state. Creating an already created order fails with
// ErrAlreadyCreated.
func (o *Order) Create(data CreatedData, meta event.Metadata) error {
	if o.Created() {
		return ErrAlreadyCreated
	}
	aggregate.Next(o, OrderCreated, data, event.WithMetadata(meta))
	return nil
}

// AddItems appends line items to the order. Adding items resets the
// validation flag and invalidates previously computed and applied
// promotions; the take-order process re-runs validation and promotion
// computation afterwards.
func (o *Order) AddItems(lines []Line, meta event.Metadata) error {
	if err := o.guard("add_items", Draft, Placed); err != nil {
		return err
	}
	aggregate.Next(o, ItemsAddedToOrder, ItemsAddedData{Lines: lines}, event.WithMetadata(meta))
	return nil
}

// MarkItemsValidated records that the current items passed catalog
// validation.
func (o *Order) MarkItemsValidated(meta event.Metadata) error {
	if err := o.guard("mark_items_validated", Draft, Placed); err != nil {
		return err
	}
	aggregate.Next(o, ItemsValidated, ItemsValidatedData{LineCount: len(o.lines)}, event.WithMetadata(meta))
	return nil
}

// RecordPromotions records the promotions the engine computed for the
// current items.
func (o *Order) RecordPromotions(promos []catalog.Promotion, meta event.Metadata) error {
	if err := o.guard("record_promotions", Draft, Placed); err != nil {
		return err
	}
	aggregate.Next(o, PromotionsCalculated, PromotionsCalculatedData{Promotions: promos}, event.WithMetadata(meta))
	return nil
}

// ApplyPromotion applies one of the computed promotions to the order.
// Applying a promotion twice is a no-op.
func (o *Order) ApplyPromotion(promotionID string, meta event.Metadata) error {
	if err := o.guard("apply_promotion", Draft, Placed); err != nil {
		return err
	}
	for _, p := range o.applied {
		if p.ID == promotionID {
			return nil
		}
	}
	for _, p := range o.available {
		if p.ID == promotionID {
			aggregate.Next(o, PromotionApplied, PromotionAppliedData{Promotion: p}, event.WithMetadata(meta))
			return nil
		}
	}
	return ErrPromotionNotFound
}

// RemovePromotion removes an applied promotion from the order.
func (o *Order) RemovePromotion(promotionID string, meta event.Metadata) error {
	if err := o.guard("remove_promotion", Draft, Placed); err != nil {
		return err
	}
	for _, p := range o.applied {
		if p.ID == promotionID {
			aggregate.Next(o, PromotionRemoved, PromotionRemovedData{PromotionID: promotionID}, event.WithMetadata(meta))
			return nil
		}
	}
	return ErrPromotionNotFound
}

// AddTip sets the tip of the order.
func (o *Order) AddTip(amount int64, meta event.Metadata) error {
	if err := o.guard("add_tip", Draft, Placed); err != nil {
		return err
	}
	aggregate.Next(o, TipAdded, TipAddedData{Amount: amount}, event.WithMetadata(meta))
	return nil
}

// ReceivePayment marks the order as paid.
func (o *Order) ReceivePayment(method string, meta event.Metadata) error {
	if err := o.guard("receive_payment", Placed, Confirmed, Preparing, Ready, Delivering, Delivered); err != nil {
		return err
	}
	aggregate.Next(o, PaymentReceived, PaymentReceivedData{Method: method}, event.WithMetadata(meta))
	return nil
}

// ChangeItemStatus updates the kitchen/prep sub-status of a line.
func (o *Order) ChangeItemStatus(itemID, status string, meta event.Metadata) error {
	if err := o.guard("change_item_status", Confirmed, Preparing, Ready); err != nil {
		return err
	}
	for _, line := range o.lines {
		if line.ItemID == itemID {
			aggregate.Next(o, ItemStatusChanged, ItemStatusData{ItemID: itemID, Status: status}, event.WithMetadata(meta))
			return nil
		}
	}
	return fmt.Errorf("line %q: %w", itemID, catalog.ErrItemNotFound)
}

// Place places the draft order.
func (o *Order) Place(meta event.Metadata) error {
	if err := o.guard("place", Draft); err != nil {
		return err
	}
	aggregate.Next(o, OrderPlaced, PlacedData{}, event.WithMetadata(meta))
	return nil
}

// Confirm confirms a placed order. The items of the order must have been
// validated first.
func (o *Order) Confirm(meta event.Metadata) error {
	if err := o.guard("confirm", Placed); err != nil {
		return err
	}
	if !o.itemsValidated {
		return ErrNotValidated
	}
	aggregate.Next(o, OrderConfirmed, ConfirmedData{}, event.WithMetadata(meta))
	return nil
}

// StartPreparing moves a confirmed order into preparation.
func (o *Order) StartPreparing(meta event.Metadata) error {
	if err := o.guard("start_preparing", Confirmed); err != nil {
		return err
	}
	aggregate.Next(o, PreparationStarted, PreparationStartedData{}, event.WithMetadata(meta))
	return nil
}

// MarkReady marks a preparing order as ready.
func (o *Order) MarkReady(meta event.Metadata) error {
	if err := o.guard("mark_ready", Preparing); err != nil {
		return err
	}
	aggregate.Next(o, OrderReady, ReadyData{}, event.WithMetadata(meta))
	return nil
}

// StartDelivery moves a ready order into delivery.
func (o *Order) StartDelivery(meta event.Metadata) error {
	if err := o.guard("start_delivery", Ready); err != nil {
		return err
	}
	aggregate.Next(o, DeliveryStarted, DeliveryStartedData{}, event.WithMetadata(meta))
	return nil
}

// MarkDelivered marks a delivering order as delivered.
func (o *Order) MarkDelivered(meta event.Metadata) error {
	if err := o.guard("mark_delivered", Delivering); err != nil {
		return err
	}
	aggregate.Next(o, OrderDelivered, DeliveredData{}, event.WithMetadata(meta))
	return nil
}

// Complete completes a ready or delivered order. Completed is terminal.
func (o *Order) Complete(meta event.Metadata) error {
	if err := o.guard("complete", Ready, Delivered); err != nil {
		return err
	}
	aggregate.Next(o, OrderCompleted, CompletedData{}, event.WithMetadata(meta))
	return nil
}

// Cancel cancels an order that has not progressed past Ready. Cancelled is
// terminal.
func (o *Order) Cancel(reason string, meta event.Metadata) error {
	if err := o.guard("cancel", Placed, Confirmed, Preparing, Ready); err != nil {
		return err
	}
	aggregate.Next(o, OrderCancelled, CancelledData{Reason: reason}, event.WithMetadata(meta))
	return nil
}

func (o *Order) guard(command string, allowed ...Status) error {
	if !o.Created() {
		return ErrNotCreated
	}
	for _, status := range allowed {
		if o.status == status {
			return nil
		}
	}
	return &aggregate.TransitionError{
		Aggregate: AggregateName,
		Command:   command,
		State:     o.status.String(),
	}
}

// ApplyEvent implements aggregate.Aggregate. The fold is an exhaustive
// switch over the payloads of the order aggregate. Totals are recomputed
// from scratch after every event that affects money, so that repeated
// apply/remove cycles cannot drift.
func (o *Order) ApplyEvent(evt event.Event) {
	switch data := evt.Data().(type) {
	case CreatedData:
		o.status = Draft
		o.sessionID = data.SessionID
		o.lines = initLines(data.Lines)
		o.customerName = data.CustomerName
		o.servingType = data.ServingType
		o.paymentMethod = data.PaymentMethod
		o.paymentStatus = "pending"
		o.totals.Tax = data.Tax
		o.recompute()
	case ItemsAddedData:
		o.lines = append(o.lines, initLines(data.Lines)...)
		o.itemsValidated = false
		o.available = nil
		o.applied = nil
		o.recompute()
	case ItemsValidatedData:
		o.itemsValidated = true
	case PromotionsCalculatedData:
		o.available = data.Promotions
	case PromotionAppliedData:
		o.applied = append(o.applied, data.Promotion)
		o.recompute()
	case PromotionRemovedData:
		for i, p := range o.applied {
			if p.ID == data.PromotionID {
				o.applied = append(o.applied[:i], o.applied[i+1:]...)
				break
			}
		}
		o.recompute()
	case TipAddedData:
		o.totals.Tip = data.Amount
		o.recompute()
	case PaymentReceivedData:
		o.paymentStatus = "paid"
		if data.Method != "" {
			o.paymentMethod = data.Method
		}
	case ItemStatusData:
		for i, line := range o.lines {
			if line.ItemID == data.ItemID {
				o.lines[i].Status = data.Status
			}
		}
	case PlacedData:
		o.status = Placed
	case ConfirmedData:
		o.status = Confirmed
	case PreparationStartedData:
		o.status = Preparing
	case ReadyData:
		o.status = Ready
	case DeliveryStartedData:
		o.status = Delivering
	case DeliveredData:
		o.status = Delivered
	case CompletedData:
		o.status = Completed
	case CancelledData:
		o.status = Cancelled
	}
}

// recompute derives the money fields from the current state. discount and
// total are always functions of (subtotal, applied promotions, tax, tip).
func (o *Order) recompute() {
	var subtotal int64
	for _, line := range o.lines {
		subtotal += int64(line.Quantity) * line.UnitPrice
	}

	var discount int64
	for _, p := range o.applied {
		discount += p.DiscountAmount
	}
	if discount > subtotal {
		discount = subtotal
	}

	o.totals.Subtotal = subtotal
	o.totals.Discount = discount
	o.totals.Total = subtotal - discount + o.totals.Tax + o.totals.Tip
}

func initLines(lines []Line) []Line {
	out := slices.Clone(lines)
	for i := range out {
		if out[i].Status == "" {
			out[i].Status = LinePending
		}
	}
	return out
}

// orderState is the serialized form of an order snapshot.
type orderState struct {
	Status         Status              `json:"status"`
	SessionID      uuid.UUID           `json:"sessionId,omitempty"`
	Lines          []Line              `json:"lines,omitempty"`
	CustomerName   string              `json:"customerName,omitempty"`
	ServingType    string              `json:"servingType,omitempty"`
	PaymentMethod  string              `json:"paymentMethod,omitempty"`
	PaymentStatus  string              `json:"paymentStatus,omitempty"`
	Totals         Totals              `json:"totals"`
	ItemsValidated bool                `json:"itemsValidated"`
	Available      []catalog.Promotion `json:"available,omitempty"`
	Applied        []catalog.Promotion `json:"applied,omitempty"`
}

// MarshalSnapshot implements snapshot.Target.
func (o *Order) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(orderState{
		Status:         o.status,
		SessionID:      o.sessionID,
		Lines:          o.lines,
		CustomerName:   o.customerName,
		ServingType:    o.servingType,
		PaymentMethod:  o.paymentMethod,
		PaymentStatus:  o.paymentStatus,
		Totals:         o.totals,
		ItemsValidated: o.itemsValidated,
		Available:      o.available,
		Applied:        o.applied,
	})
}

// UnmarshalSnapshot implements snapshot.Target.
func (o *Order) UnmarshalSnapshot(b []byte) error {
	var state orderState
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	o.status = state.Status
	o.sessionID = state.SessionID
	o.lines = state.Lines
	o.customerName = state.CustomerName
	o.servingType = state.ServingType
	o.paymentMethod = state.PaymentMethod
	o.paymentStatus = state.PaymentStatus
	o.totals = state.Totals
	o.itemsValidated = state.ItemsValidated
	o.available = state.Available
	o.applied = state.Applied
	return nil
}
