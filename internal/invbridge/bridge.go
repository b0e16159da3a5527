// Package invbridge connects inventory movements to their ledger cost: it
// prices line items from stored unit costs and applies on-hand quantity
// deltas for journalized events.
package invbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-ledger/meridian/internal/journal"
)

// Movement is one product quantity delta. Negative quantity consumes stock.
type Movement struct {
	ProductID int64
	Quantity  float64
	Reason    string
}

// CostSource looks up stored unit costs.
type CostSource interface {
	UnitCosts(ctx context.Context, tenantID int64, productIDs []int64) (map[int64]float64, error)
}

// Adjuster applies quantity deltas to on-hand stock. Each delta is keyed to
// its source transaction; re-applying a (transaction, product) pair is a
// no-op.
type Adjuster interface {
	AdjustQuantity(ctx context.Context, tenantID, txnID, productID int64, delta float64, reason string) error
}

// Bridge prices events and moves stock.
type Bridge struct {
	costs CostSource
	adj   Adjuster
	log   *slog.Logger
}

// NewBridge constructs Bridge.
func NewBridge(costs CostSource, adj Adjuster, log *slog.Logger) *Bridge {
	return &Bridge{costs: costs, adj: adj, log: log}
}

// PriceItems fills each item's missing unit cost from the stored product cost
// and returns the total cost value. Items that already carry a unit cost are
// trusted; events capture the cost at the moment of the movement, while the
// stored cost drifts with later purchases.
func (b *Bridge) PriceItems(ctx context.Context, tenantID int64, items []journal.LineItem) ([]journal.LineItem, float64, error) {
	var missing []int64
	for _, item := range items {
		if item.UnitCost == 0 && item.ProductID != 0 {
			missing = append(missing, item.ProductID)
		}
	}
	if len(missing) > 0 {
		costs, err := b.costs.UnitCosts(ctx, tenantID, missing)
		if err != nil {
			return nil, 0, fmt.Errorf("invbridge: pricing items: %w", err)
		}
		priced := make([]journal.LineItem, len(items))
		copy(priced, items)
		for i := range priced {
			if priced[i].UnitCost == 0 {
				priced[i].UnitCost = costs[priced[i].ProductID]
			}
		}
		items = priced
	}
	return items, journal.ItemsValue(items), nil
}

// ApplyMovements applies every quantity delta. Movements are applied in order
// and the first failure stops the batch; the synchronization task retries the
// whole batch, which is safe because the adjuster keys each movement to its
// source transaction.
func (b *Bridge) ApplyMovements(ctx context.Context, tenantID, txnID int64, movements []Movement) error {
	for _, mv := range movements {
		if mv.Quantity == 0 || mv.ProductID == 0 {
			continue
		}
		if err := b.adj.AdjustQuantity(ctx, tenantID, txnID, mv.ProductID, mv.Quantity, mv.Reason); err != nil {
			return fmt.Errorf("invbridge: adjusting product %d: %w", mv.ProductID, err)
		}
		b.log.DebugContext(ctx, "stock adjusted",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("transaction_id", txnID),
			slog.Int64("product_id", mv.ProductID),
			slog.Float64("delta", mv.Quantity))
	}
	return nil
}

// MovementsForSale converts sold items into negative stock deltas.
func MovementsForSale(items []journal.LineItem) []Movement {
	return movements(items, -1, "sale")
}

// MovementsForReturn converts restocked items into positive stock deltas.
func MovementsForReturn(items []journal.LineItem) []Movement {
	return movements(items, 1, "return")
}

// MovementsForPurchase converts received items into positive stock deltas.
func MovementsForPurchase(items []journal.LineItem) []Movement {
	return movements(items, 1, "purchase")
}

// MovementsForPurchaseReturn converts items sent back to the supplier into
// negative stock deltas.
func MovementsForPurchaseReturn(items []journal.LineItem) []Movement {
	return movements(items, -1, "purchase_return")
}

func movements(items []journal.LineItem, sign float64, reason string) []Movement {
	out := make([]Movement, 0, len(items))
	for _, item := range items {
		if item.ProductID == 0 || item.Quantity == 0 {
			continue
		}
		out = append(out, Movement{ProductID: item.ProductID, Quantity: sign * item.Quantity, Reason: reason})
	}
	return out
}
