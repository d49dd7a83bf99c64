package aggregate_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/event"
)

type counter struct {
	*aggregate.Base
	value int
}

type incremented struct{ By int }

func newCounter(id uuid.UUID) *counter {
	return &counter{Base: aggregate.New("counter", id)}
}

func (c *counter) increment(by int) {
	aggregate.Next(c, "counter.incremented", incremented{By: by})
}

func (c *counter) ApplyEvent(evt event.Event) {
	switch data := evt.Data().(type) {
	case incremented:
		c.value += data.By
	}
}

func TestNext(t *testing.T) {
	c := newCounter(uuid.New())

	c.increment(1)
	c.increment(2)
	c.increment(3)

	if c.value != 6 {
		t.Errorf("commands should have been applied; value should be 6, got %d", c.value)
	}

	changes := c.AggregateChanges()
	if len(changes) != 3 {
		t.Fatalf("aggregate should have 3 uncommitted changes; got %d", len(changes))
	}
	for i, evt := range changes {
		if evt.AggregateVersion() != i+1 {
			t.Errorf("changes[%d] should have sequence %d; got %d", i, i+1, evt.AggregateVersion())
		}
		if evt.AggregateID() != c.AggregateID() {
			t.Errorf("changes[%d] should belong to the aggregate stream", i)
		}
	}

	if c.AggregateVersion() != 0 {
		t.Errorf("uncommitted changes should not advance the committed version; got %d", c.AggregateVersion())
	}

	c.Commit()

	if c.AggregateVersion() != 3 {
		t.Errorf("Commit should set the version to 3; got %d", c.AggregateVersion())
	}
	if len(c.AggregateChanges()) != 0 {
		t.Errorf("Commit should clear the changes; got %d", len(c.AggregateChanges()))
	}
}

func TestNext_strictlyIncreasingTimes(t *testing.T) {
	c := newCounter(uuid.New())

	c.increment(1)
	c.increment(1)
	c.increment(1)

	changes := c.AggregateChanges()
	for i := 1; i < len(changes); i++ {
		if !changes[i].Time().After(changes[i-1].Time()) {
			t.Fatalf("event times must be strictly increasing within a command; changes[%d]=%v changes[%d]=%v",
				i-1, changes[i-1].Time(), i, changes[i].Time())
		}
	}
}

func TestApplyHistory(t *testing.T) {
	id := uuid.New()

	src := newCounter(id)
	src.increment(2)
	src.increment(3)
	history := append([]event.Event(nil), src.AggregateChanges()...)

	c := newCounter(id)
	aggregate.ApplyHistory(c, history...)

	if c.value != 5 {
		t.Errorf("replayed aggregate should have value 5; got %d", c.value)
	}
	if c.AggregateVersion() != 2 {
		t.Errorf("replayed aggregate should have version 2; got %d", c.AggregateVersion())
	}
	if len(c.AggregateChanges()) != 0 {
		t.Errorf("replayed history should not leave uncommitted changes")
	}
}

func TestTransitionError(t *testing.T) {
	err := &aggregate.TransitionError{Aggregate: "order", Command: "confirm", State: "draft"}

	if !errors.Is(err, aggregate.ErrInvalidTransition) {
		t.Errorf("*TransitionError should unwrap to ErrInvalidTransition")
	}
}
