package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate"
	"github.com/jpkontreras/orderflow/catalog"
	"github.com/jpkontreras/orderflow/event"
)

// Service is the command entry point of the order aggregate. Every command
// re-fetches the order, runs the command and saves the changes, retrying on
// version conflicts.
type Service struct {
	repo     *aggregate.Repository
	catalog  catalog.Catalog
	maxTries int
}

// ServiceOption is a Service option.
type ServiceOption func(*Service)

// WithMaxTries returns a ServiceOption that sets how often a conflicted
// command is retried before giving up. Defaults to 3.
func WithMaxTries(n int) ServiceOption {
	return func(svc *Service) {
		svc.maxTries = n
	}
}

// NewService returns the order command service.
func NewService(repo *aggregate.Repository, c catalog.Catalog, opts ...ServiceOption) *Service {
	svc := &Service{
		repo:     repo,
		catalog:  c,
		maxTries: 3,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Get fetches the current state of an order.
func (svc *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o := New(id)
	if err := svc.repo.Fetch(ctx, o); err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if !o.Created() {
		return nil, ErrNotCreated
	}
	return o, nil
}

// AddItems validates the requested items against the catalog, snapshots their
// current prices and appends them to the order. Unknown or inactive items
// fail with a *catalog.ValidationError and emit nothing.
func (svc *Service) AddItems(ctx context.Context, id uuid.UUID, requests []catalog.Line, meta event.Metadata) error {
	if err := catalog.Validate(ctx, svc.catalog, requests); err != nil {
		return err
	}

	lines := make([]Line, len(requests))
	for i, req := range requests {
		item, err := svc.catalog.GetItem(ctx, req.ItemID)
		if err != nil {
			return fmt.Errorf("get item %q: %w", req.ItemID, err)
		}
		lines[i] = Line{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  req.Quantity,
			UnitPrice: item.CurrentPrice,
		}
	}

	return svc.execute(ctx, id, func(o *Order) error {
		return o.AddItems(lines, meta)
	})
}

// MarkItemsValidated records that the current items passed catalog
// validation. Issued by the take-order process manager.
func (svc *Service) MarkItemsValidated(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.MarkItemsValidated(meta)
	})
}

// RecordPromotions records the promotions computed for the current items.
// Issued by the take-order process manager.
func (svc *Service) RecordPromotions(ctx context.Context, id uuid.UUID, promos []catalog.Promotion, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.RecordPromotions(promos, meta)
	})
}

// ApplyPromotion applies one of the computed promotions to the order.
func (svc *Service) ApplyPromotion(ctx context.Context, id uuid.UUID, promotionID string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.ApplyPromotion(promotionID, meta)
	})
}

// RemovePromotion removes an applied promotion from the order.
func (svc *Service) RemovePromotion(ctx context.Context, id uuid.UUID, promotionID string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.RemovePromotion(promotionID, meta)
	})
}

// AddTip sets the tip of the order.
func (svc *Service) AddTip(ctx context.Context, id uuid.UUID, amount int64, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.AddTip(amount, meta)
	})
}

// ReceivePayment marks the order as paid.
func (svc *Service) ReceivePayment(ctx context.Context, id uuid.UUID, method string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.ReceivePayment(method, meta)
	})
}

// ChangeItemStatus updates the kitchen/prep sub-status of a line.
func (svc *Service) ChangeItemStatus(ctx context.Context, id uuid.UUID, itemID, status string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.ChangeItemStatus(itemID, status, meta)
	})
}

// Place places a draft order.
func (svc *Service) Place(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.Place(meta)
	})
}

// Confirm confirms a placed order.
func (svc *Service) Confirm(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.Confirm(meta)
	})
}

// StartPreparing moves a confirmed order into preparation.
func (svc *Service) StartPreparing(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.StartPreparing(meta)
	})
}

// MarkReady marks a preparing order as ready.
func (svc *Service) MarkReady(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.MarkReady(meta)
	})
}

// StartDelivery moves a ready order into delivery.
func (svc *Service) StartDelivery(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.StartDelivery(meta)
	})
}

// MarkDelivered marks a delivering order as delivered.
func (svc *Service) MarkDelivered(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.MarkDelivered(meta)
	})
}

// Complete completes a ready or delivered order.
func (svc *Service) Complete(ctx context.Context, id uuid.UUID, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.Complete(meta)
	})
}

// Cancel cancels an order that has not progressed past Ready.
func (svc *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, meta event.Metadata) error {
	return svc.execute(ctx, id, func(o *Order) error {
		return o.Cancel(reason, meta)
	})
}

func (svc *Service) execute(ctx context.Context, id uuid.UUID, cmd func(*Order) error) error {
	return aggregate.Retry(ctx, svc.maxTries, func(ctx context.Context) error {
		o := New(id)
		if err := svc.repo.Fetch(ctx, o); err != nil {
			return fmt.Errorf("fetch order: %w", err)
		}
		if err := cmd(o); err != nil {
			return err
		}
		return svc.repo.Save(ctx, o)
	})
}
