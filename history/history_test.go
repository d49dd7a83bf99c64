package history_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventlog/memlog"
	"github.com/jpkontreras/orderflow/history"
	"github.com/jpkontreras/orderflow/ordersession"
)

var (
	noMeta   = event.Metadata{}
	empanada = catalog.Item{ID: "empanada", Name: "Empanada", CurrentPrice: 2500, IsActive: true}
	cola     = catalog.Item{ID: "cola", Name: "Cola", CurrentPrice: 1500, IsActive: true}
)

func seedSession(t *testing.T, repo *aggregate.Repository) *ordersession.Session {
	t.Helper()
	sess := ordersession.New(uuid.New())
	sess.Start(noMeta)
	sess.AddItem(empanada, 2, nil, "", noMeta)
	sess.AddItem(cola, 1, nil, "", noMeta)
	sess.EnterCustomerInfo(ordersession.CustomerInfo{Name: "Maria"}, noMeta)
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return sess
}

func TestTimeline(t *testing.T) {
	log := memlog.New()
	sess := seedSession(t, aggregate.NewRepository(log))

	svc := history.NewService(log)

	timeline, err := svc.Timeline(context.Background(), sess.AggregateID())
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}

	if len(timeline) != 4 {
		t.Fatalf("timeline should have 4 entries; got %d", len(timeline))
	}
	for i, entry := range timeline {
		if entry.Sequence != i+1 {
			t.Errorf("timeline[%d] should have sequence %d; got %d", i, i+1, entry.Sequence)
		}
		if entry.Description == "" {
			t.Errorf("timeline[%d] should have a description", i)
		}
	}

	if !strings.Contains(timeline[1].Description, "Empanada") {
		t.Errorf("the add-item entry should mention the item name; got %q", timeline[1].Description)
	}
	if !strings.Contains(timeline[1].Description, "2x") {
		t.Errorf("the add-item entry should mention the quantity; got %q", timeline[1].Description)
	}
}

func TestStateAt(t *testing.T) {
	log := memlog.New()
	repo := aggregate.NewRepository(log)

	sess := ordersession.New(uuid.New())
	sess.Start(noMeta)
	sess.AddItem(empanada, 2, nil, "", noMeta)
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cut := time.Now()
	time.Sleep(5 * time.Millisecond)

	if err := sess.AddItem(cola, 1, nil, "", noMeta); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	svc := history.NewService(log)

	a, err := svc.StateAt(context.Background(), ordersession.AggregateName, sess.AggregateID(), cut)
	if err != nil {
		t.Fatalf("StateAt failed: %v", err)
	}

	past, ok := a.(*ordersession.Session)
	if !ok {
		t.Fatalf("StateAt should return a *ordersession.Session; got %T", a)
	}
	if past.Subtotal() != 5000 {
		t.Errorf("subtotal at the cut should be 5000; got %d", past.Subtotal())
	}
	if len(past.CartItems()) != 1 {
		t.Errorf("cart at the cut should have 1 item; got %d", len(past.CartItems()))
	}
	if past.AggregateVersion() != 2 {
		t.Errorf("state at the cut should be at version 2; got %d", past.AggregateVersion())
	}
}

func TestStateAt_matchesLiveFold(t *testing.T) {
	log := memlog.New()
	repo := aggregate.NewRepository(log)
	sess := seedSession(t, repo)

	svc := history.NewService(log)

	// The state at "now" must equal a live fetch: identical fold, identical
	// state.
	a, err := svc.StateAt(context.Background(), ordersession.AggregateName, sess.AggregateID(), time.Now())
	if err != nil {
		t.Fatalf("StateAt failed: %v", err)
	}
	past := a.(*ordersession.Session)

	live := ordersession.New(sess.AggregateID())
	if err := repo.Fetch(context.Background(), live); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if past.Subtotal() != live.Subtotal() {
		t.Errorf("historical subtotal %d should equal live subtotal %d", past.Subtotal(), live.Subtotal())
	}
	if past.Status() != live.Status() {
		t.Errorf("historical status %v should equal live status %v", past.Status(), live.Status())
	}
	if past.AggregateVersion() != live.AggregateVersion() {
		t.Errorf("historical version %d should equal live version %d", past.AggregateVersion(), live.AggregateVersion())
	}
}

func TestStateAt_unknownAggregate(t *testing.T) {
	svc := history.NewService(memlog.New())

	if _, err := svc.StateAt(context.Background(), "warehouse", uuid.New(), time.Now()); !errors.Is(err, history.ErrUnknownAggregate) {
		t.Fatalf("StateAt of an unregistered aggregate should fail with %q; got %v", history.ErrUnknownAggregate, err)
	}
}

func TestReplayBetween(t *testing.T) {
	log := memlog.New()
	sess := seedSession(t, aggregate.NewRepository(log))

	svc := history.NewService(log)

	events, err := svc.ReplayBetween(context.Background(), sess.AggregateID(), 2, 3)
	if err != nil {
		t.Fatalf("ReplayBetween failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("ReplayBetween(2, 3) should return 2 events; got %d", len(events))
	}
	if events[0].AggregateVersion() != 2 || events[1].AggregateVersion() != 3 {
		t.Errorf("ReplayBetween should return sequences [2 3]; got [%d %d]",
			events[0].AggregateVersion(), events[1].AggregateVersion())
	}
}

func TestStatistics(t *testing.T) {
	log := memlog.New()
	sess := seedSession(t, aggregate.NewRepository(log))

	svc := history.NewService(log)

	stats, err := svc.Statistics(context.Background(), sess.AggregateID())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	if stats.EventCount != 4 {
		t.Errorf("stream should have 4 events; got %d", stats.EventCount)
	}
	if stats.ByName[ordersession.ItemAddedToCart] != 2 {
		t.Errorf("stream should have 2 %q events; got %d", ordersession.ItemAddedToCart, stats.ByName[ordersession.ItemAddedToCart])
	}
	if stats.First.After(stats.Last) {
		t.Errorf("first event time should not be after the last")
	}
	if stats.Duration != stats.Last.Sub(stats.First) {
		t.Errorf("duration should be last - first")
	}
}
