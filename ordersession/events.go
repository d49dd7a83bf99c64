package ordersession

import (
	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
)

// Event names of the order session aggregate.
const (
	SessionStarted        = "session.started"
	ItemAddedToCart       = "session.item_added"
	ItemRemovedFromCart   = "session.item_removed"
	CartItemModified      = "session.item_modified"
	CustomerInfoEntered   = "session.customer_info_entered"
	ServingTypeSelected   = "session.serving_type_selected"
	PaymentMethodSelected = "session.payment_method_selected"
	SessionConverted      = "session.converted"
	SessionAbandoned      = "session.abandoned"
)

// StartedData is the payload of the SessionStarted event.
type StartedData struct{}

// ItemAddedData is the payload of the ItemAddedToCart event. UnitPrice is the
// catalog price snapshotted at command time; replay never re-fetches it.
type ItemAddedData struct {
	ItemID    string   `json:"itemId"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	UnitPrice int64    `json:"unitPrice"`
	Modifiers []string `json:"modifiers,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// ItemRemovedData is the payload of the ItemRemovedFromCart event.
type ItemRemovedData struct {
	ItemID string `json:"itemId"`
}

// ItemModifiedData is the payload of the CartItemModified event.
type ItemModifiedData struct {
	ItemID    string   `json:"itemId"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// CustomerInfoData is the payload of the CustomerInfoEntered event. Fields
// are collected incrementally; empty fields leave the previously entered
// values untouched.
type CustomerInfoData struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ServingTypeData is the payload of the ServingTypeSelected event.
type ServingTypeData struct {
	ServingType string `json:"servingType"`
}

// PaymentMethodData is the payload of the PaymentMethodSelected event.
type PaymentMethodData struct {
	Method string `json:"method"`
}

// ConvertedData is the payload of the SessionConverted event. It binds the
// session to the order that was created from it.
type ConvertedData struct {
	OrderID uuid.UUID `json:"orderId"`
}

// AbandonedData is the payload of the SessionAbandoned event.
type AbandonedData struct {
	Reason string `json:"reason,omitempty"`
}

// RegisterEvents registers the payload types of the session aggregate into
// the given registry.
func RegisterEvents(reg *event.Registry) {
	event.Register[StartedData](reg, SessionStarted)
	event.Register[ItemAddedData](reg, ItemAddedToCart)
	event.Register[ItemRemovedData](reg, ItemRemovedFromCart)
	event.Register[ItemModifiedData](reg, CartItemModified)
	event.Register[CustomerInfoData](reg, CustomerInfoEntered)
	event.Register[ServingTypeData](reg, ServingTypeSelected)
	event.Register[PaymentMethodData](reg, PaymentMethodSelected)
	event.Register[ConvertedData](reg, SessionConverted)
	event.Register[AbandonedData](reg, SessionAbandoned)
}
