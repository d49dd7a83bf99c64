// Package saga implements the take-order process manager. It reacts to order
// events on the event bus and drives each order through validation and
// promotion calculation until the order is ready to be confirmed.
//
// The process for one order:
//
//	OrderCreated / ItemsAddedToOrder -> validate items against the catalog
//	ItemsValidated                   -> compute applicable promotions
//	PromotionsCalculated             -> awaiting confirmation, wake waiters
//
// Adding items to an order restarts its process from validation; promotions
// computed for the previous items are discarded by the aggregate fold.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventbus"
	"github.com/jpkontreras/orderflow/order"
	"go.uber.org/zap"
)

// ErrUnknownProcess is returned when waiting for an order that has no
// running process.
var ErrUnknownProcess = errors.New("unknown process")

// Process states.
const (
	StateStarted               = "started"
	StateValidating            = "validating"
	StateCalculatingPromotions = "calculating_promotions"
	StateAwaitingConfirmation  = "awaiting_confirmation"
	StateValidationFailed      = "validation_failed"
)

// A Context carries the initial context of a take-order process that is
// started before its order exists.
type Context struct {
	SessionID uuid.UUID
	Metadata  event.Metadata
}

// A Result is the outcome of waiting for a process. Done is false when the
// wait timed out before the process finished; a timeout is not an error, the
// process keeps running in the background and can be waited for again.
type Result struct {
	Done       bool
	OrderID    uuid.UUID
	State      string
	Promotions []catalog.Promotion
	Failures   []catalog.ItemFailure
}

type process struct {
	id         uuid.UUID
	orderID    uuid.UUID
	context    Context
	state      string
	promotions []catalog.Promotion
	failures   []catalog.ItemFailure
	finished   bool
	done       chan struct{}
}

// complete wakes the waiters of the process. An in-place restarted round can
// finish a second time on the same process, so done is closed at most once.
func (p *process) complete() {
	if !p.finished {
		p.finished = true
		close(p.done)
	}
}

func (p *process) result() Result {
	return Result{
		Done:       p.state == StateAwaitingConfirmation || p.state == StateValidationFailed,
		OrderID:    p.orderID,
		State:      p.state,
		Promotions: p.promotions,
		Failures:   p.failures,
	}
}

// Coordinator runs one take-order process per order. A process is usually
// created when the OrderCreated event arrives, with the order id doubling as
// the process id; callers that need to wait before the order exists create
// one explicitly with Start and bind it with LinkOrder. A confirmed or
// cancelled order archives its process.
type Coordinator struct {
	bus     eventbus.Bus
	orders  *order.Service
	catalog catalog.Catalog
	engine  catalog.PromotionEngine
	log     *zap.Logger

	mux     sync.Mutex
	procs   map[uuid.UUID]*process
	byOrder map[uuid.UUID]uuid.UUID
}

// CoordinatorOption is a Coordinator option.
type CoordinatorOption func(*Coordinator)

// WithLogger returns a CoordinatorOption that sets the logger of the
// coordinator.
func WithLogger(log *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator returns a take-order coordinator.
func NewCoordinator(
	bus eventbus.Bus,
	orders *order.Service,
	cat catalog.Catalog,
	engine catalog.PromotionEngine,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		bus:     bus,
		orders:  orders,
		catalog: cat,
		engine:  engine,
		log:     zap.NewNop(),
		procs:   make(map[uuid.UUID]*process),
		byOrder: make(map[uuid.UUID]uuid.UUID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run subscribes to order events and drives the processes until ctx is
// canceled. Events of a single order are handled sequentially.
func (c *Coordinator) Run(ctx context.Context) error {
	events, err := c.bus.Subscribe(ctx,
		order.OrderCreated,
		order.ItemsAddedToOrder,
		order.ItemsValidated,
		order.PromotionsCalculated,
		order.OrderConfirmed,
		order.OrderCancelled,
	)
	if err != nil {
		return fmt.Errorf("subscribe to order events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ctx, evt)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, evt event.Event) {
	orderID := evt.AggregateID()

	switch evt.Name() {
	case order.OrderCreated, order.ItemsAddedToOrder:
		c.begin(orderID)
		c.validate(ctx, evt)
	case order.ItemsValidated:
		c.transition(orderID, StateCalculatingPromotions)
		c.calculatePromotions(ctx, evt)
	case order.PromotionsCalculated:
		c.finish(orderID, evt)
	case order.OrderConfirmed, order.OrderCancelled:
		c.archive(orderID)
	}
}

// Start creates a process before its order exists, so a caller can obtain a
// process id at the moment the flow begins and wait on it as soon as the
// order is linked with LinkOrder.
func (c *Coordinator) Start(initial Context) uuid.UUID {
	p := &process{
		id:      uuid.New(),
		context: initial,
		state:   StateStarted,
		done:    make(chan struct{}),
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	c.procs[p.id] = p

	return p.id
}

// LinkOrder binds a started process to its order. Events of that order then
// drive the linked process instead of spawning a fresh one.
func (c *Coordinator) LinkOrder(processID, orderID uuid.UUID) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	p, ok := c.procs[processID]
	if !ok {
		return fmt.Errorf("process %s: %w", processID, ErrUnknownProcess)
	}
	p.orderID = orderID
	c.byOrder[orderID] = processID

	return nil
}

// lookup resolves the process of an order. Callers must hold c.mux.
func (c *Coordinator) lookup(orderID uuid.UUID) *process {
	if id, ok := c.byOrder[orderID]; ok {
		return c.procs[id]
	}
	return c.procs[orderID]
}

// begin starts the process of an order, or restarts it if items were added
// while a previous round was running. Waiters of a finished round keep the
// result they already observed; a restart after a finished round reuses the
// process id so linked callers stay bound.
func (c *Coordinator) begin(orderID uuid.UUID) {
	c.mux.Lock()
	defer c.mux.Unlock()

	p := c.lookup(orderID)
	if p != nil && p.state != StateAwaitingConfirmation && p.state != StateValidationFailed {
		p.state = StateValidating
		return
	}

	id := orderID
	var initial Context
	if p != nil {
		id = p.id
		initial = p.context
	}

	c.procs[id] = &process{
		id:      id,
		orderID: orderID,
		context: initial,
		state:   StateValidating,
		done:    make(chan struct{}),
	}
	c.byOrder[orderID] = id
}

func (c *Coordinator) validate(ctx context.Context, evt event.Event) {
	orderID := evt.AggregateID()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		c.fail(orderID, err, "fetch order for validation")
		return
	}

	lines := make([]catalog.Line, len(o.Lines()))
	for i, line := range o.Lines() {
		lines[i] = catalog.Line{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}

	if err := catalog.Validate(ctx, c.catalog, lines); err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			c.rejected(orderID, verr.Failures)
			return
		}
		c.fail(orderID, err, "validate items")
		return
	}

	if err := c.orders.MarkItemsValidated(ctx, orderID, metaOf(evt)); err != nil {
		c.fail(orderID, err, "mark items validated")
	}
}

func (c *Coordinator) calculatePromotions(ctx context.Context, evt event.Event) {
	orderID := evt.AggregateID()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		c.fail(orderID, err, "fetch order for promotions")
		return
	}

	lines := make([]catalog.Line, len(o.Lines()))
	for i, line := range o.Lines() {
		lines[i] = catalog.Line{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}

	promos, err := c.engine.ComputeApplicablePromotions(ctx, lines, catalog.PromotionContext{
		ServingType: o.ServingType(),
		Subtotal:    o.Totals().Subtotal,
	})
	if err != nil {
		c.fail(orderID, err, "compute promotions")
		return
	}

	if err := c.orders.RecordPromotions(ctx, orderID, promos, metaOf(evt)); err != nil {
		c.fail(orderID, err, "record promotions")
	}
}

// finish moves the process into the awaiting confirmation state and wakes
// every waiter.
func (c *Coordinator) finish(orderID uuid.UUID, evt event.Event) {
	data, ok := evt.Data().(order.PromotionsCalculatedData)
	if !ok {
		return
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	p := c.lookup(orderID)
	if p == nil {
		return
	}
	p.state = StateAwaitingConfirmation
	p.promotions = data.Promotions
	p.complete()
}

func (c *Coordinator) rejected(orderID uuid.UUID, failures []catalog.ItemFailure) {
	c.mux.Lock()
	defer c.mux.Unlock()

	p := c.lookup(orderID)
	if p == nil {
		return
	}
	p.state = StateValidationFailed
	p.failures = failures
	p.complete()

	c.log.Info("order rejected by catalog",
		zap.String("orderId", orderID.String()),
		zap.Int("failures", len(failures)),
	)
}

func (c *Coordinator) transition(orderID uuid.UUID, state string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if p := c.lookup(orderID); p != nil {
		p.state = state
	}
}

func (c *Coordinator) archive(orderID uuid.UUID) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if p := c.lookup(orderID); p != nil {
		delete(c.procs, p.id)
	}
	delete(c.byOrder, orderID)
}

func (c *Coordinator) fail(orderID uuid.UUID, err error, msg string) {
	c.log.Error(msg,
		zap.String("orderId", orderID.String()),
		zap.Error(err),
	)
}

// WaitForCompletion blocks until the process identified by id finishes, the
// timeout elapses or ctx is canceled. The id is either a process id returned
// by Start or the order id of an implicitly created process. A timeout
// returns Result{Done: false} with the current process state and a nil
// error; the process keeps running.
func (c *Coordinator) WaitForCompletion(ctx context.Context, id uuid.UUID, timeout time.Duration) (Result, error) {
	c.mux.Lock()
	p := c.lookup(id)
	if p == nil {
		c.mux.Unlock()
		return Result{}, fmt.Errorf("process %s: %w", id, ErrUnknownProcess)
	}
	result := p.result()
	done := p.done
	orderID := p.orderID
	c.mux.Unlock()

	if result.Done {
		return result, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		c.mux.Lock()
		defer c.mux.Unlock()
		if p := c.lookup(id); p != nil {
			return Result{OrderID: p.orderID, State: p.state}, nil
		}
		return Result{OrderID: orderID}, nil
	case <-done:
		c.mux.Lock()
		defer c.mux.Unlock()
		if p := c.lookup(id); p != nil {
			return p.result(), nil
		}
		return result, nil
	}
}

func metaOf(evt event.Event) event.Metadata {
	return evt.Metadata()
}
