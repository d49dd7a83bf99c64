package order_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/order"
)

var noMeta = event.Metadata{}

func draftOrder(t *testing.T) *order.Order {
	t.Helper()
	o := order.New(uuid.New())
	err := o.Create(order.CreatedData{
		SessionID: uuid.New(),
		Lines: []order.Line{
			{ItemID: "empanada", Name: "Empanada", Quantity: 2, UnitPrice: 2500},
			{ItemID: "cola", Name: "Cola", Quantity: 1, UnitPrice: 1500},
		},
		CustomerName: "Maria",
		ServingType:  "takeout",
		Subtotal:     6500,
		Tax:          500,
	}, noMeta)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return o
}

// validated runs the order through the take-order steps up to awaiting
// confirmation.
func validated(t *testing.T, o *order.Order, promos ...catalog.Promotion) {
	t.Helper()
	if err := o.MarkItemsValidated(noMeta); err != nil {
		t.Fatalf("MarkItemsValidated failed: %v", err)
	}
	if err := o.RecordPromotions(promos, noMeta); err != nil {
		t.Fatalf("RecordPromotions failed: %v", err)
	}
}

func TestOrder_Create(t *testing.T) {
	o := draftOrder(t)

	if o.Status() != order.Draft {
		t.Errorf("new order should be %v; got %v", order.Draft, o.Status())
	}
	if o.PaymentStatus() != "pending" {
		t.Errorf("new order should have payment status %q; got %q", "pending", o.PaymentStatus())
	}

	totals := o.Totals()
	if totals.Subtotal != 6500 {
		t.Errorf("subtotal should be 6500; got %d", totals.Subtotal)
	}
	if totals.Total != 7000 {
		t.Errorf("total should be subtotal + tax = 7000; got %d", totals.Total)
	}

	if err := o.Create(order.CreatedData{}, noMeta); !errors.Is(err, order.ErrAlreadyCreated) {
		t.Errorf("creating twice should fail with %q; got %v", order.ErrAlreadyCreated, err)
	}
}

func TestOrder_lifecycle(t *testing.T) {
	o := draftOrder(t)
	validated(t, o)

	steps := []struct {
		name string
		run  func() error
		want order.Status
	}{
		{"Place", func() error { return o.Place(noMeta) }, order.Placed},
		{"Confirm", func() error { return o.Confirm(noMeta) }, order.Confirmed},
		{"StartPreparing", func() error { return o.StartPreparing(noMeta) }, order.Preparing},
		{"MarkReady", func() error { return o.MarkReady(noMeta) }, order.Ready},
		{"StartDelivery", func() error { return o.StartDelivery(noMeta) }, order.Delivering},
		{"MarkDelivered", func() error { return o.MarkDelivered(noMeta) }, order.Delivered},
		{"Complete", func() error { return o.Complete(noMeta) }, order.Completed},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
		if o.Status() != step.want {
			t.Fatalf("%s should move the order to %v; got %v", step.name, step.want, o.Status())
		}
	}
}

func TestOrder_noSkippingStates(t *testing.T) {
	o := draftOrder(t)
	validated(t, o)

	if err := o.StartPreparing(noMeta); !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Errorf("StartPreparing from draft should fail with an invalid transition; got %v", err)
	}
	if err := o.Complete(noMeta); !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Errorf("Complete from draft should fail with an invalid transition; got %v", err)
	}
	if err := o.MarkDelivered(noMeta); !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Errorf("MarkDelivered from draft should fail with an invalid transition; got %v", err)
	}

	var terr *aggregate.TransitionError
	err := o.StartPreparing(noMeta)
	if !errors.As(err, &terr) {
		t.Fatalf("transition failures should be *TransitionError; got %v", err)
	}
	if terr.State != "draft" {
		t.Errorf("TransitionError should carry the current state %q; got %q", "draft", terr.State)
	}
}

func TestOrder_confirm_requiresValidation(t *testing.T) {
	o := draftOrder(t)
	if err := o.Place(noMeta); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	if err := o.Confirm(noMeta); !errors.Is(err, order.ErrNotValidated) {
		t.Fatalf("Confirm without validated items should fail with %q; got %v", order.ErrNotValidated, err)
	}
}

func TestOrder_cancel(t *testing.T) {
	o := draftOrder(t)

	if err := o.Cancel("changed my mind", noMeta); !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Fatalf("Cancel from draft should fail with an invalid transition; got %v", err)
	}

	if err := o.Place(noMeta); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if err := o.Cancel("changed my mind", noMeta); err != nil {
		t.Fatalf("Cancel from placed failed: %v", err)
	}
	if o.Status() != order.Cancelled {
		t.Fatalf("order should be %v; got %v", order.Cancelled, o.Status())
	}

	if err := o.Place(noMeta); !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Errorf("commands on a cancelled order should fail with an invalid transition; got %v", err)
	}
}

func TestOrder_promotions(t *testing.T) {
	promo := catalog.Promotion{ID: "combo", DiscountAmount: 1000, Description: "combo deal"}

	o := draftOrder(t)
	validated(t, o, promo)

	if err := o.ApplyPromotion("combo", noMeta); err != nil {
		t.Fatalf("ApplyPromotion failed: %v", err)
	}

	totals := o.Totals()
	if totals.Discount != 1000 {
		t.Errorf("discount should be 1000; got %d", totals.Discount)
	}
	if totals.Total != 6000 {
		t.Errorf("total should be 6500 - 1000 + 500 = 6000; got %d", totals.Total)
	}

	// Applying the same promotion twice is a no-op.
	before := len(o.AggregateChanges())
	if err := o.ApplyPromotion("combo", noMeta); err != nil {
		t.Fatalf("repeated ApplyPromotion should be a no-op; got %v", err)
	}
	if len(o.AggregateChanges()) != before {
		t.Errorf("repeated ApplyPromotion must not emit events")
	}

	if err := o.ApplyPromotion("nonexistent", noMeta); !errors.Is(err, order.ErrPromotionNotFound) {
		t.Errorf("applying an uncomputed promotion should fail with %q; got %v", order.ErrPromotionNotFound, err)
	}

	if err := o.RemovePromotion("combo", noMeta); err != nil {
		t.Fatalf("RemovePromotion failed: %v", err)
	}
	if o.Totals().Discount != 0 {
		t.Errorf("discount should be recomputed to 0; got %d", o.Totals().Discount)
	}
	if o.Totals().Total != 7000 {
		t.Errorf("total should be back to 7000; got %d", o.Totals().Total)
	}
}

func TestOrder_discountNeverExceedsSubtotal(t *testing.T) {
	promo := catalog.Promotion{ID: "huge", DiscountAmount: 99999}

	o := order.New(uuid.New())
	if err := o.Create(order.CreatedData{
		Lines:    []order.Line{{ItemID: "cola", Quantity: 1, UnitPrice: 1500}},
		Subtotal: 1500,
	}, noMeta); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	validated(t, o, promo)

	if err := o.ApplyPromotion("huge", noMeta); err != nil {
		t.Fatalf("ApplyPromotion failed: %v", err)
	}

	totals := o.Totals()
	if totals.Discount != 1500 {
		t.Errorf("discount should be capped at the subtotal 1500; got %d", totals.Discount)
	}
	if totals.Total != 0 {
		t.Errorf("total should never go negative; got %d", totals.Total)
	}
}

func TestOrder_addItems_resetsValidation(t *testing.T) {
	promo := catalog.Promotion{ID: "combo", DiscountAmount: 1000}

	o := draftOrder(t)
	validated(t, o, promo)
	if err := o.ApplyPromotion("combo", noMeta); err != nil {
		t.Fatalf("ApplyPromotion failed: %v", err)
	}

	if err := o.AddItems([]order.Line{{ItemID: "cafe", Name: "Cafe", Quantity: 1, UnitPrice: 2000}}, noMeta); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}

	if o.ItemsValidated() {
		t.Errorf("adding items must reset the validation flag")
	}
	if len(o.AvailablePromotions()) != 0 {
		t.Errorf("adding items must discard computed promotions")
	}
	if len(o.AppliedPromotions()) != 0 {
		t.Errorf("adding items must discard applied promotions")
	}

	totals := o.Totals()
	if totals.Subtotal != 8500 {
		t.Errorf("subtotal should be 6500 + 2000 = 8500; got %d", totals.Subtotal)
	}
	if totals.Discount != 0 {
		t.Errorf("discount should be recomputed to 0; got %d", totals.Discount)
	}
}

func TestOrder_tipAndPayment(t *testing.T) {
	o := draftOrder(t)
	validated(t, o)

	if err := o.AddTip(1000, noMeta); err != nil {
		t.Fatalf("AddTip failed: %v", err)
	}
	if o.Totals().Total != 8000 {
		t.Errorf("total should be 6500 + 500 + 1000 = 8000; got %d", o.Totals().Total)
	}

	if err := o.Place(noMeta); err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if err := o.ReceivePayment("card", noMeta); err != nil {
		t.Fatalf("ReceivePayment failed: %v", err)
	}
	if o.PaymentStatus() != "paid" {
		t.Errorf("payment status should be %q; got %q", "paid", o.PaymentStatus())
	}
}

func TestOrder_itemStatus(t *testing.T) {
	o := draftOrder(t)
	validated(t, o)
	if err := o.Place(noMeta); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	if err := o.ChangeItemStatus("empanada", order.LinePreparing, noMeta); !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Fatalf("ChangeItemStatus before confirmation should fail with an invalid transition; got %v", err)
	}

	if err := o.Confirm(noMeta); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := o.ChangeItemStatus("empanada", order.LinePreparing, noMeta); err != nil {
		t.Fatalf("ChangeItemStatus failed: %v", err)
	}

	for _, line := range o.Lines() {
		want := order.LinePending
		if line.ItemID == "empanada" {
			want = order.LinePreparing
		}
		if line.Status != want {
			t.Errorf("line %q should have status %q; got %q", line.ItemID, want, line.Status)
		}
	}
}

func TestOrder_replayDeterminism(t *testing.T) {
	promo := catalog.Promotion{ID: "combo", DiscountAmount: 1000}

	o := draftOrder(t)
	validated(t, o, promo)
	o.ApplyPromotion("combo", noMeta)
	o.AddTip(500, noMeta)
	o.Place(noMeta)
	o.Confirm(noMeta)

	history := append([]event.Event(nil), o.AggregateChanges()...)

	replayed := order.New(o.AggregateID())
	aggregate.ApplyHistory(replayed, history...)

	if o.Status() != replayed.Status() {
		t.Errorf("replayed status differs: %v != %v", o.Status(), replayed.Status())
	}
	if !cmp.Equal(o.Totals(), replayed.Totals()) {
		t.Errorf("replayed totals differ:\n%s", cmp.Diff(o.Totals(), replayed.Totals()))
	}
	if !cmp.Equal(o.Lines(), replayed.Lines()) {
		t.Errorf("replayed lines differ:\n%s", cmp.Diff(o.Lines(), replayed.Lines()))
	}
}

func TestOrder_notCreated(t *testing.T) {
	o := order.New(uuid.New())

	if err := o.Place(noMeta); !errors.Is(err, order.ErrNotCreated) {
		t.Errorf("Place on an uncreated order should fail with %q; got %v", order.ErrNotCreated, err)
	}
}
