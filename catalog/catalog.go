// Package catalog defines the read-only collaborators that the order core
// consumes: the item catalog and the promotion engine. Both are called at
// command time only; replay never consults them, because the emitted events
// carry snapshots of the looked-up values.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrItemNotFound is returned when looking up an item that does not exist in
// the catalog.
var ErrItemNotFound = errors.New("item not found")

// An Item is a read-only catalog lookup result. CurrentPrice is in minor
// currency units.
type Item struct {
	ID           string
	Name         string
	CurrentPrice int64
	IsActive     bool
	Category     string
}

// A Catalog looks up items for command-time validation and price
// snapshotting.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (Item, error)
}

// A Line is an order line as seen by the promotion engine. UnitPrice is the
// price snapshot recorded when the item was added, in minor currency units.
type Line struct {
	ItemID    string
	Quantity  int
	UnitPrice int64
}

// A Promotion is a discount computed by the promotion engine.
// DiscountAmount is in minor currency units.
type Promotion struct {
	ID             string `json:"id"`
	DiscountAmount int64  `json:"discountAmount"`
	Description    string `json:"description"`
}

// PromotionContext carries the order-level inputs of the promotion
// computation.
type PromotionContext struct {
	ServingType string
	Subtotal    int64
}

// A PromotionEngine computes the promotions that apply to a set of order
// lines. The computation may be slow or external, which is why it runs
// inside the take-order process manager and not inside an aggregate.
type PromotionEngine interface {
	ComputeApplicablePromotions(ctx context.Context, lines []Line, pctx PromotionContext) ([]Promotion, error)
}

// An ItemFailure describes why a single item was rejected.
type ItemFailure struct {
	ItemID string
	Reason string
}

// A ValidationError reports the items that the catalog rejected, so that the
// caller can prompt for correction.
type ValidationError struct {
	Failures []ItemFailure
}

func (err *ValidationError) Error() string {
	reasons := make([]string, len(err.Failures))
	for i, f := range err.Failures {
		reasons[i] = fmt.Sprintf("%s (%s)", f.ItemID, f.Reason)
	}
	return fmt.Sprintf("validation failed for items: %s", strings.Join(reasons, ", "))
}

// Validate checks the given lines against the catalog. It returns a
// *ValidationError listing every rejected line, or nil if all lines are
// valid.
func Validate(ctx context.Context, c Catalog, lines []Line) error {
	var failures []ItemFailure
	for _, line := range lines {
		if line.Quantity <= 0 {
			failures = append(failures, ItemFailure{ItemID: line.ItemID, Reason: "quantity must be positive"})
			continue
		}

		item, err := c.GetItem(ctx, line.ItemID)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				failures = append(failures, ItemFailure{ItemID: line.ItemID, Reason: "unknown item"})
				continue
			}
			return fmt.Errorf("get item %q: %w", line.ItemID, err)
		}

		if !item.IsActive {
			failures = append(failures, ItemFailure{ItemID: line.ItemID, Reason: "item not available"})
		}
	}

	if len(failures) > 0 {
		return &ValidationError{Failures: failures}
	}
	return nil
}
