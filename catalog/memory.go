package catalog

import (
	"context"
	"fmt"
	"sync"
)

// InMemory is an in-memory Catalog, used by tests and by the demo mode of
// the CLI.
type InMemory struct {
	mux   sync.RWMutex
	items map[string]Item
}

var _ Catalog = (*InMemory)(nil)

// NewInMemory returns an in-memory catalog containing the given items.
func NewInMemory(items ...Item) *InMemory {
	c := &InMemory{items: make(map[string]Item)}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// Put adds or replaces an item.
func (c *InMemory) Put(item Item) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.items[item.ID] = item
}

// GetItem implements Catalog.
func (c *InMemory) GetItem(ctx context.Context, itemID string) (Item, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	item, ok := c.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("item %q: %w", itemID, ErrItemNotFound)
	}
	return item, nil
}

// EngineFunc allows functions to be used as a PromotionEngine.
type EngineFunc func(ctx context.Context, lines []Line, pctx PromotionContext) ([]Promotion, error)

// ComputeApplicablePromotions returns fn(ctx, lines, pctx).
func (fn EngineFunc) ComputeApplicablePromotions(ctx context.Context, lines []Line, pctx PromotionContext) ([]Promotion, error) {
	return fn(ctx, lines, pctx)
}

// ThresholdEngine returns a PromotionEngine that grants a flat discount when
// the subtotal reaches the given threshold. Used by tests and by the demo
// mode of the CLI.
func ThresholdEngine(threshold, discount int64) PromotionEngine {
	return EngineFunc(func(ctx context.Context, lines []Line, pctx PromotionContext) ([]Promotion, error) {
		if pctx.Subtotal < threshold {
			return nil, nil
		}
		return []Promotion{{
			ID:             "order-threshold",
			DiscountAmount: discount,
			Description:    fmt.Sprintf("discount for orders over %d", threshold),
		}}, nil
	})
}
