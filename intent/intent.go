// Package intent implements the batched command ingestion surface. Clients
// that buffer interactions offline submit them as a batch of intents; each
// intent translates into exactly one session command.
package intent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/ordersession"
)

// ErrUnknownKind is returned for intents whose kind is not recognized.
var ErrUnknownKind = errors.New("unknown intent kind")

// Kind identifies the command an intent translates into.
type Kind string

// The supported intent kinds.
const (
	ItemAdded     = Kind("item_added")
	ItemRemoved   = Kind("item_removed")
	ItemModified  = Kind("item_modified")
	CustomerInfo  = Kind("customer_info")
	PaymentMethod = Kind("payment_method")
	Checkout      = Kind("checkout")
	Abandon       = Kind("abandon")
)

// An Intent is one buffered client interaction. Only the fields relevant to
// its kind are read.
type Intent struct {
	Kind Kind `json:"kind"`

	ItemID        string                    `json:"itemId,omitempty"`
	Quantity      int                       `json:"quantity,omitempty"`
	Modifiers     []string                  `json:"modifiers,omitempty"`
	Notes         string                    `json:"notes,omitempty"`
	Customer      ordersession.CustomerInfo `json:"customer,omitempty"`
	PaymentMethod string                    `json:"paymentMethod,omitempty"`
	Reason        string                    `json:"reason,omitempty"`

	Metadata event.Metadata `json:"metadata,omitempty"`
}

// A Result is the outcome of one intent. OrderID is set for a successful
// checkout intent.
type Result struct {
	Kind    Kind
	OK      bool
	OrderID uuid.UUID
	Err     error
}

// Translator applies batches of intents to a session.
type Translator struct {
	sessions *ordersession.Service
}

// NewTranslator returns an intent translator backed by the given session
// service.
func NewTranslator(sessions *ordersession.Service) *Translator {
	return &Translator{sessions: sessions}
}

// Apply runs every intent of the batch against the session, in order, and
// returns one result per intent. A failed intent does not stop the batch:
// later intents still run, so an offline queue that contains one stale
// interaction does not lose the rest.
func (t *Translator) Apply(ctx context.Context, sessionID uuid.UUID, intents []Intent) []Result {
	results := make([]Result, len(intents))
	for i, in := range intents {
		results[i] = t.apply(ctx, sessionID, in)
	}
	return results
}

func (t *Translator) apply(ctx context.Context, sessionID uuid.UUID, in Intent) Result {
	result := Result{Kind: in.Kind}

	var err error
	switch in.Kind {
	case ItemAdded:
		err = t.sessions.AddItem(ctx, sessionID, in.ItemID, in.Quantity, in.Modifiers, in.Notes, in.Metadata)
	case ItemRemoved:
		err = t.sessions.RemoveItem(ctx, sessionID, in.ItemID, in.Metadata)
	case ItemModified:
		err = t.sessions.ModifyItem(ctx, sessionID, in.ItemID, in.Quantity, in.Modifiers, in.Notes, in.Metadata)
	case CustomerInfo:
		err = t.sessions.EnterCustomerInfo(ctx, sessionID, in.Customer, in.Metadata)
	case PaymentMethod:
		err = t.sessions.SelectPaymentMethod(ctx, sessionID, in.PaymentMethod, in.Metadata)
	case Checkout:
		result.OrderID, err = t.sessions.Checkout(ctx, sessionID, in.Metadata)
	case Abandon:
		err = t.sessions.Abandon(ctx, sessionID, in.Reason, in.Metadata)
	default:
		err = fmt.Errorf("%q: %w", in.Kind, ErrUnknownKind)
	}

	result.OK = err == nil
	result.Err = err
	return result
}
