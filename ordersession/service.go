package ordersession

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/order"
	"go.uber.org/zap"
)

// An ActivityRecorder receives the session after every successful command.
// The session cache implements this interface; recording is advisory and a
// failing recorder never fails the command.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, s *Session) error
}

// A TaxCalculator computes the tax for an order, in minor currency units.
type TaxCalculator func(subtotal int64, servingType string) int64

// Service is the command entry point of the session aggregate. Every command
// re-fetches the session, runs the command and saves the changes, retrying on
// version conflicts so that concurrent writers serialize instead of failing.
type Service struct {
	repo     *aggregate.Repository
	catalog  catalog.Catalog
	recorder ActivityRecorder
	tax      TaxCalculator
	log      *zap.Logger
	maxTries int
}

// ServiceOption is a Service option.
type ServiceOption func(*Service)

// WithActivityRecorder returns a ServiceOption that forwards sessions to the
// given recorder after every successful command.
func WithActivityRecorder(r ActivityRecorder) ServiceOption {
	return func(svc *Service) {
		svc.recorder = r
	}
}

// WithTaxCalculator returns a ServiceOption that computes order tax at
// checkout. The default calculator returns zero tax.
func WithTaxCalculator(tax TaxCalculator) ServiceOption {
	return func(svc *Service) {
		svc.tax = tax
	}
}

// WithLogger returns a ServiceOption that sets the logger of the service.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(svc *Service) {
		svc.log = log
	}
}

// WithMaxTries returns a ServiceOption that sets how often a conflicted
// command is retried before giving up. Defaults to 3.
func WithMaxTries(n int) ServiceOption {
	return func(svc *Service) {
		svc.maxTries = n
	}
}

// NewService returns the session command service.
func NewService(repo *aggregate.Repository, c catalog.Catalog, opts ...ServiceOption) *Service {
	svc := &Service{
		repo:     repo,
		catalog:  c,
		tax:      func(int64, string) int64 { return 0 },
		log:      zap.NewNop(),
		maxTries: 3,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Get fetches the current state of a session.
func (svc *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := New(id)
	if err := svc.repo.Fetch(ctx, sess); err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}
	return sess, nil
}

// Start starts a new session.
func (svc *Service) Start(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.Start(meta)
	})
}

// AddItem validates the item against the catalog and adds it to the cart,
// snapshotting its current price. Unknown or inactive items fail with a
// *catalog.ValidationError and emit nothing.
func (svc *Service) AddItem(ctx context.Context, id uuid.UUID, itemID string, quantity int, modifiers []string, notes string, meta event.Metadata) error {
	if quantity <= 0 {
		return &catalog.ValidationError{Failures: []catalog.ItemFailure{
			{ItemID: itemID, Reason: "quantity must be positive"},
		}}
	}

	item, err := svc.catalog.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return &catalog.ValidationError{Failures: []catalog.ItemFailure{
				{ItemID: itemID, Reason: "unknown item"},
			}}
		}
		return fmt.Errorf("get item %q: %w", itemID, err)
	}
	if !item.IsActive {
		return &catalog.ValidationError{Failures: []catalog.ItemFailure{
			{ItemID: itemID, Reason: "item not available"},
		}}
	}

	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.AddItem(item, quantity, modifiers, notes, meta)
	})
}

// RemoveItem removes an item from the cart.
func (svc *Service) RemoveItem(ctx context.Context, id uuid.UUID, itemID string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.RemoveItem(itemID, meta)
	})
}

// ModifyItem changes the quantity, modifiers or notes of a cart item.
func (svc *Service) ModifyItem(ctx context.Context, id uuid.UUID, itemID string, quantity int, modifiers []string, notes string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.ModifyItem(itemID, quantity, modifiers, notes, meta)
	})
}

// EnterCustomerInfo records customer information.
func (svc *Service) EnterCustomerInfo(ctx context.Context, id uuid.UUID, info CustomerInfo, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.EnterCustomerInfo(info, meta)
	})
}

// SelectServingType records the serving type of the session.
func (svc *Service) SelectServingType(ctx context.Context, id uuid.UUID, servingType string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.SelectServingType(servingType, meta)
	})
}

// SelectPaymentMethod records the payment method of the session.
func (svc *Service) SelectPaymentMethod(ctx context.Context, id uuid.UUID, method string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.SelectPaymentMethod(method, meta)
	})
}

// Abandon marks the session as abandoned. Abandoning an already terminal
// session is a no-op.
func (svc *Service) Abandon(ctx context.Context, id uuid.UUID, reason string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(sess *Session) error {
		return sess.Abandon(reason, meta)
	})
}

// Checkout converts the session into an order and returns the order id.
//
// Checkout is idempotent. The first checkout binds a new order id to the
// session; every later checkout of the same session returns that id without
// appending events or creating another order. Checkout also creates the order
// aggregate from the cart, so a crash between converting the session and
// creating the order is healed by simply checking out again.
func (svc *Service) Checkout(ctx context.Context, id uuid.UUID, meta event.Metadata) (uuid.UUID, error) {
	newOrderID := uuid.New()

	var orderID uuid.UUID
	err := aggregate.Retry(ctx, svc.maxTries, func(ctx context.Context) error {
		sess := New(id)
		if err := svc.repo.Fetch(ctx, sess); err != nil {
			return fmt.Errorf("fetch session: %w", err)
		}

		oid, err := sess.Checkout(newOrderID, meta)
		if err != nil {
			return err
		}
		if err := svc.repo.Save(ctx, sess); err != nil {
			return err
		}
		svc.record(ctx, sess)

		if err := svc.ensureOrder(ctx, oid, sess, meta); err != nil {
			return err
		}

		orderID = oid
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	return orderID, nil
}

// ensureOrder creates the order the session was converted into, unless it
// already exists.
func (svc *Service) ensureOrder(ctx context.Context, orderID uuid.UUID, sess *Session, meta event.Metadata) error {
	o := order.New(orderID)
	if err := svc.repo.Fetch(ctx, o); err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	if o.Created() {
		return nil
	}

	cart := sess.CartItems()
	lines := make([]order.Line, len(cart))
	for i, item := range cart {
		lines[i] = order.Line{
			ItemID:    item.ItemID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Modifiers: item.Modifiers,
			Notes:     item.Notes,
		}
	}

	subtotal := sess.Subtotal()
	if err := o.Create(order.CreatedData{
		SessionID:     sess.AggregateID(),
		Lines:         lines,
		CustomerName:  sess.Customer().Name,
		ServingType:   sess.ServingType(),
		PaymentMethod: sess.PaymentMethod(),
		Subtotal:      subtotal,
		Tax:           svc.tax(subtotal, sess.ServingType()),
	}, meta); err != nil {
		return err
	}

	if err := svc.repo.Save(ctx, o); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (svc *Service) execute(ctx context.Context, id uuid.UUID, cmd func(*Session) error) error {
	return aggregate.Retry(ctx, svc.maxTries, func(ctx context.Context) error {
		sess := New(id)
		if err := svc.repo.Fetch(ctx, sess); err != nil {
			return fmt.Errorf("fetch session: %w", err)
		}
		if err := cmd(sess); err != nil {
			return err
		}
		if err := svc.repo.Save(ctx, sess); err != nil {
			return err
		}
		svc.record(ctx, sess)
		return nil
	})
}

func (svc *Service) record(ctx context.Context, sess *Session) {
	if svc.recorder == nil {
		return
	}
	if err := svc.recorder.RecordActivity(ctx, sess); err != nil {
		svc.log.Warn("record session activity",
			zap.String("sessionId", sess.AggregateID().String()),
			zap.Error(err),
		)
	}
}
