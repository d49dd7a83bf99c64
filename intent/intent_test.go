package intent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventlog/memlog"
	"github.com/jpkontreras/orderflow/intent"
	"github.com/jpkontreras/orderflow/ordersession"
)

var noMeta = event.Metadata{}

func newTranslator(t *testing.T) (*intent.Translator, *ordersession.Service) {
	t.Helper()
	repo := aggregate.NewRepository(memlog.New())
	cat := catalog.NewInMemory(
		catalog.Item{ID: "empanada", Name: "Empanada", CurrentPrice: 2500, IsActive: true},
		catalog.Item{ID: "cola", Name: "Cola", CurrentPrice: 1500, IsActive: true},
	)
	sessions := ordersession.NewService(repo, cat)
	return intent.NewTranslator(sessions), sessions
}

func TestTranslator_Apply(t *testing.T) {
	translator, sessions := newTranslator(t)
	ctx := context.Background()
	id := uuid.New()

	if err := sessions.Start(ctx, id, noMeta); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	results := translator.Apply(ctx, id, []intent.Intent{
		{Kind: intent.ItemAdded, ItemID: "empanada", Quantity: 2},
		{Kind: intent.ItemAdded, ItemID: "cola", Quantity: 1},
		{Kind: intent.CustomerInfo, Customer: ordersession.CustomerInfo{Name: "Maria"}},
		{Kind: intent.PaymentMethod, PaymentMethod: "cash"},
		{Kind: intent.Checkout},
	})

	if len(results) != 5 {
		t.Fatalf("Apply should return one result per intent; got %d", len(results))
	}
	for i, result := range results {
		if !result.OK {
			t.Fatalf("results[%d] (%s) should be OK; got %v", i, result.Kind, result.Err)
		}
	}
	if results[4].OrderID == uuid.Nil {
		t.Errorf("the checkout result should carry the order id")
	}

	sess, err := sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.Status() != ordersession.Converted {
		t.Errorf("session should be %v; got %v", ordersession.Converted, sess.Status())
	}
	if sess.OrderID() != results[4].OrderID {
		t.Errorf("session should be bound to order %s; got %s", results[4].OrderID, sess.OrderID())
	}
}

func TestTranslator_partialFailure(t *testing.T) {
	translator, sessions := newTranslator(t)
	ctx := context.Background()
	id := uuid.New()

	if err := sessions.Start(ctx, id, noMeta); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The second intent fails; the batch must keep going so the rest of the
	// offline queue still lands.
	results := translator.Apply(ctx, id, []intent.Intent{
		{Kind: intent.ItemAdded, ItemID: "empanada", Quantity: 1},
		{Kind: intent.ItemRemoved, ItemID: "sushi"},
		{Kind: intent.ItemAdded, ItemID: "cola", Quantity: 1},
	})

	if results[0].Err != nil || !results[0].OK {
		t.Errorf("results[0] should be OK; got %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ordersession.ErrItemNotInCart) {
		t.Errorf("results[1] should fail with %q; got %v", ordersession.ErrItemNotInCart, results[1].Err)
	}
	if results[1].OK {
		t.Errorf("results[1] should not be OK")
	}
	if results[2].Err != nil || !results[2].OK {
		t.Errorf("results[2] should be OK despite the earlier failure; got %v", results[2].Err)
	}

	sess, err := sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sess.CartItems()) != 2 {
		t.Errorf("both valid adds should have landed; got %d items", len(sess.CartItems()))
	}
}

func TestTranslator_unknownKind(t *testing.T) {
	translator, sessions := newTranslator(t)
	ctx := context.Background()
	id := uuid.New()

	if err := sessions.Start(ctx, id, noMeta); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	results := translator.Apply(ctx, id, []intent.Intent{{Kind: "teleport"}})

	if !errors.Is(results[0].Err, intent.ErrUnknownKind) {
		t.Fatalf("unknown kinds should fail with %q; got %v", intent.ErrUnknownKind, results[0].Err)
	}
}
