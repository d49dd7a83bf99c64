package order

import (
	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
)

// Event names of the order aggregate.
const (
	OrderCreated         = "order.created"
	ItemsAddedToOrder    = "order.items_added"
	ItemsValidated       = "order.items_validated"
	PromotionsCalculated = "order.promotions_calculated"
	PromotionApplied     = "order.promotion_applied"
	PromotionRemoved     = "order.promotion_removed"
	TipAdded             = "order.tip_added"
	PaymentReceived      = "order.payment_received"
	ItemStatusChanged    = "order.item_status_changed"
	OrderPlaced          = "order.placed"
	OrderConfirmed       = "order.confirmed"
	PreparationStarted   = "order.preparation_started"
	OrderReady           = "order.ready"
	DeliveryStarted      = "order.delivery_started"
	OrderDelivered       = "order.delivered"
	OrderCompleted       = "order.completed"
	OrderCancelled       = "order.cancelled"
)

// CreatedData is the payload of the OrderCreated event. Lines carry the
// price snapshots recorded during the session; Subtotal and Tax are in minor
// currency units.
type CreatedData struct {
	SessionID     uuid.UUID `json:"sessionId,omitempty"`
	Lines         []Line    `json:"lines"`
	CustomerName  string    `json:"customerName,omitempty"`
	ServingType   string    `json:"servingType,omitempty"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	Subtotal      int64     `json:"subtotal"`
	Tax           int64     `json:"tax"`
}

// ItemsAddedData is the payload of the ItemsAddedToOrder event.
type ItemsAddedData struct {
	Lines []Line `json:"lines"`
}

// ItemsValidatedData is the payload of the ItemsValidated event.
type ItemsValidatedData struct {
	LineCount int `json:"lineCount"`
}

// PromotionsCalculatedData is the payload of the PromotionsCalculated event.
type PromotionsCalculatedData struct {
	Promotions []catalog.Promotion `json:"promotions"`
}

// PromotionAppliedData is the payload of the PromotionApplied event.
type PromotionAppliedData struct {
	Promotion catalog.Promotion `json:"promotion"`
}

// PromotionRemovedData is the payload of the PromotionRemoved event.
type PromotionRemovedData struct {
	PromotionID string `json:"promotionId"`
}

// TipAddedData is the payload of the TipAdded event. Amount is in minor
// currency units.
type TipAddedData struct {
	Amount int64 `json:"amount"`
}

// PaymentReceivedData is the payload of the PaymentReceived event.
type PaymentReceivedData struct {
	Method string `json:"method,omitempty"`
}

// ItemStatusData is the payload of the ItemStatusChanged event. It tracks
// the kitchen/prep sub-status of a single line.
type ItemStatusData struct {
	ItemID string `json:"itemId"`
	Status string `json:"status"`
}

// PlacedData is the payload of the OrderPlaced event.
type PlacedData struct{}

// ConfirmedData is the payload of the OrderConfirmed event.
type ConfirmedData struct{}

// PreparationStartedData is the payload of the PreparationStarted event.
type PreparationStartedData struct{}

// ReadyData is the payload of the OrderReady event.
type ReadyData struct{}

// DeliveryStartedData is the payload of the DeliveryStarted event.
type DeliveryStartedData struct{}

// DeliveredData is the payload of the OrderDelivered event.
type DeliveredData struct{}

// CompletedData is the payload of the OrderCompleted event.
type CompletedData struct{}

// CancelledData is the payload of the OrderCancelled event.
type CancelledData struct {
	Reason string `json:"reason,omitempty"`
}

// RegisterEvents registers the payload types of the order aggregate into the
// given registry.
func RegisterEvents(reg *event.Registry) {
	event.Register[CreatedData](reg, OrderCreated)
	event.Register[ItemsAddedData](reg, ItemsAddedToOrder)
	event.Register[ItemsValidatedData](reg, ItemsValidated)
	event.Register[PromotionsCalculatedData](reg, PromotionsCalculated)
	event.Register[PromotionAppliedData](reg, PromotionApplied)
	event.Register[PromotionRemovedData](reg, PromotionRemoved)
	event.Register[TipAddedData](reg, TipAdded)
	event.Register[PaymentReceivedData](reg, PaymentReceived)
	event.Register[ItemStatusData](reg, ItemStatusChanged)
	event.Register[PlacedData](reg, OrderPlaced)
	event.Register[ConfirmedData](reg, OrderConfirmed)
	event.Register[PreparationStartedData](reg, PreparationStarted)
	event.Register[ReadyData](reg, OrderReady)
	event.Register[DeliveryStartedData](reg, DeliveryStarted)
	event.Register[DeliveredData](reg, OrderDelivered)
	event.Register[CompletedData](reg, OrderCompleted)
	event.Register[CancelledData](reg, OrderCancelled)
}
