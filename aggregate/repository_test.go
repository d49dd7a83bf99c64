package aggregate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/aggregate/snapshot"
	"github.com/jpkontreras/orderflow/aggregate/snapshot/memsnap"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventbus/chanbus"
	"github.com/jpkontreras/orderflow/event/eventlog"
	"github.com/jpkontreras/orderflow/event/eventlog/memlog"
	"github.com/jpkontreras/orderflow/ordersession"
)

var empanada = catalog.Item{ID: "empanada", Name: "Empanada", CurrentPrice: 2500, IsActive: true}

func TestRepository_FetchSave(t *testing.T) {
	repo := aggregate.NewRepository(memlog.New())
	id := uuid.New()

	sess := ordersession.New(id)
	if err := sess.Start(event.Metadata{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.AddItem(empanada, 2, nil, "", event.Metadata{}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := ordersession.New(id)
	if err := repo.Fetch(context.Background(), reloaded); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if reloaded.AggregateVersion() != 2 {
		t.Errorf("reloaded session should have version 2; got %d", reloaded.AggregateVersion())
	}
	if reloaded.Status() != ordersession.CartBuilding {
		t.Errorf("reloaded session should be %v; got %v", ordersession.CartBuilding, reloaded.Status())
	}
	if reloaded.Subtotal() != 5000 {
		t.Errorf("reloaded session should have subtotal 5000; got %d", reloaded.Subtotal())
	}
}

func TestRepository_Fetch_freshAggregate(t *testing.T) {
	repo := aggregate.NewRepository(memlog.New())

	sess := ordersession.New(uuid.New())
	if err := repo.Fetch(context.Background(), sess); err != nil {
		t.Fatalf("fetching an aggregate without events should not fail; got %v", err)
	}
	if sess.AggregateVersion() != 0 {
		t.Errorf("fresh aggregate should have version 0; got %d", sess.AggregateVersion())
	}
}

func TestRepository_Save_conflict(t *testing.T) {
	log := memlog.New()
	repo := aggregate.NewRepository(log)
	id := uuid.New()

	sess := ordersession.New(id)
	if err := sess.Start(event.Metadata{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Two writers fetch the same version and both try to append.
	a := ordersession.New(id)
	if err := repo.Fetch(context.Background(), a); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	b := ordersession.New(id)
	if err := repo.Fetch(context.Background(), b); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if err := a.AddItem(empanada, 1, nil, "", event.Metadata{}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := b.AddItem(empanada, 1, nil, "", event.Metadata{}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	if err := repo.Save(context.Background(), a); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := repo.Save(context.Background(), b); !errors.Is(err, eventlog.ErrVersionMismatch) {
		t.Fatalf("second Save should fail with %q; got %v", eventlog.ErrVersionMismatch, err)
	}
}

func TestRepository_Save_publishesOnBus(t *testing.T) {
	bus := chanbus.New()
	repo := aggregate.NewRepository(memlog.New(), aggregate.WithBus(bus))

	events, err := bus.Subscribe(context.Background(), ordersession.SessionStarted)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sess := ordersession.New(uuid.New())
	if err := sess.Start(event.Metadata{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	evt := <-events
	if evt.Name() != ordersession.SessionStarted {
		t.Errorf("published event should be %q; got %q", ordersession.SessionStarted, evt.Name())
	}
}

func TestRepository_snapshots(t *testing.T) {
	snapshots := memsnap.New()
	repo := aggregate.NewRepository(memlog.New(), aggregate.WithSnapshots(snapshots, 2))
	id := uuid.New()

	sess := ordersession.New(id)
	if err := sess.Start(event.Metadata{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.AddItem(empanada, 2, nil, "", event.Metadata{}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err := snapshots.Latest(context.Background(), id)
	if err != nil {
		t.Fatalf("a snapshot should have been taken at version 2: %v", err)
	}
	if snap.Sequence != 2 {
		t.Errorf("snapshot should be at sequence 2; got %d", snap.Sequence)
	}

	reloaded := ordersession.New(id)
	if err := repo.Fetch(context.Background(), reloaded); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if reloaded.Subtotal() != 5000 {
		t.Errorf("session restored from snapshot should have subtotal 5000; got %d", reloaded.Subtotal())
	}
}

func TestRepository_corruptSnapshot(t *testing.T) {
	snapshots := memsnap.New()
	repo := aggregate.NewRepository(memlog.New(), aggregate.WithSnapshots(snapshots, 100))
	id := uuid.New()

	sess := ordersession.New(id)
	if err := sess.Start(event.Metadata{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sess.AddItem(empanada, 1, nil, "", event.Metadata{}); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := repo.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A snapshot that cannot be unmarshaled must be discarded; the fetch
	// falls back to a full replay of the stream.
	if err := snapshots.Save(context.Background(), snapshot.Snapshot{
		StreamID:   id,
		StreamName: ordersession.AggregateName,
		Sequence:   2,
		State:      []byte("{corrupt"),
	}); err != nil {
		t.Fatalf("Save snapshot failed: %v", err)
	}

	reloaded := ordersession.New(id)
	if err := repo.Fetch(context.Background(), reloaded); err != nil {
		t.Fatalf("Fetch with a corrupt snapshot should fall back to replay; got %v", err)
	}
	if reloaded.Subtotal() != 2500 {
		t.Errorf("replayed session should have subtotal 2500; got %d", reloaded.Subtotal())
	}

	if _, err := snapshots.Latest(context.Background(), id); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("corrupt snapshot should have been deleted; got %v", err)
	}
}

func TestRetry(t *testing.T) {
	tries := 0
	err := aggregate.Retry(context.Background(), 3, func(context.Context) error {
		tries++
		if tries < 3 {
			return eventlog.ErrVersionMismatch
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry should succeed on the third try; got %v", err)
	}
	if tries != 3 {
		t.Errorf("Retry should have run the closure 3 times; got %d", tries)
	}
}

func TestRetry_nonConflictError(t *testing.T) {
	boom := errors.New("boom")
	tries := 0
	err := aggregate.Retry(context.Background(), 3, func(context.Context) error {
		tries++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Retry should return the error; got %v", err)
	}
	if tries != 1 {
		t.Errorf("Retry must not retry non-conflict errors; ran %d times", tries)
	}
}

func TestRetry_exhausted(t *testing.T) {
	err := aggregate.Retry(context.Background(), 2, func(context.Context) error {
		return eventlog.ErrVersionMismatch
	})
	if !errors.Is(err, eventlog.ErrVersionMismatch) {
		t.Fatalf("exhausted Retry should return the conflict; got %v", err)
	}
}
