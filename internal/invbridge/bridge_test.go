package invbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ledger/meridian/internal/journal"
)

type memoryStock struct {
	costs      map[int64]float64
	quantities map[int64]float64
	applied    map[string]bool
	failOn     int64
}

func (m *memoryStock) UnitCosts(_ context.Context, _ int64, ids []int64) (map[int64]float64, error) {
	out := make(map[int64]float64)
	for _, id := range ids {
		out[id] = m.costs[id]
	}
	return out, nil
}

func (m *memoryStock) AdjustQuantity(_ context.Context, _, txnID, productID int64, delta float64, _ string) error {
	if productID == m.failOn {
		return errors.New("product missing")
	}
	key := fmt.Sprintf("%d:%d", txnID, productID)
	if m.applied[key] {
		return nil
	}
	if m.applied == nil {
		m.applied = make(map[string]bool)
	}
	m.applied[key] = true
	m.quantities[productID] += delta
	return nil
}

func newTestBridge(stock *memoryStock) *Bridge {
	return NewBridge(stock, stock, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPriceItemsFillsMissingCosts(t *testing.T) {
	stock := &memoryStock{costs: map[int64]float64{1: 12.5, 2: 3}, quantities: map[int64]float64{}}
	bridge := newTestBridge(stock)

	items, total, err := bridge.PriceItems(context.Background(), 1, []journal.LineItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 4, UnitCost: 5}, // event-captured cost wins
	})
	require.NoError(t, err)
	require.Equal(t, 12.5, items[0].UnitCost)
	require.Equal(t, 5.0, items[1].UnitCost)
	require.Equal(t, 45.0, total) // 2*12.50 + 4*5
}

func TestPriceItemsWithoutLookupNeeded(t *testing.T) {
	bridge := newTestBridge(&memoryStock{quantities: map[int64]float64{}})

	_, total, err := bridge.PriceItems(context.Background(), 1, []journal.LineItem{
		{ProductID: 1, Quantity: 3, UnitCost: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 30.0, total)
}

func TestApplyMovements(t *testing.T) {
	stock := &memoryStock{quantities: map[int64]float64{1: 10, 2: 10}}
	bridge := newTestBridge(stock)

	err := bridge.ApplyMovements(context.Background(), 1, 99, MovementsForSale([]journal.LineItem{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 1},
	}))
	require.NoError(t, err)
	require.Equal(t, 7.0, stock.quantities[1])
	require.Equal(t, 9.0, stock.quantities[2])

	err = bridge.ApplyMovements(context.Background(), 1, 100, MovementsForReturn([]journal.LineItem{
		{ProductID: 1, Quantity: 2},
	}))
	require.NoError(t, err)
	require.Equal(t, 9.0, stock.quantities[1])
}

func TestApplyMovementsStopsOnFailure(t *testing.T) {
	stock := &memoryStock{quantities: map[int64]float64{1: 10}, failOn: 2}
	bridge := newTestBridge(stock)

	err := bridge.ApplyMovements(context.Background(), 1, 99, []Movement{
		{ProductID: 1, Quantity: -1, Reason: "sale"},
		{ProductID: 2, Quantity: -1, Reason: "sale"},
	})
	require.Error(t, err)
	require.Equal(t, 9.0, stock.quantities[1])
}

func TestRetriedBatchSkipsAppliedMovements(t *testing.T) {
	stock := &memoryStock{quantities: map[int64]float64{1: 10, 2: 10}, failOn: 2}
	bridge := newTestBridge(stock)

	batch := MovementsForSale([]journal.LineItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	require.Error(t, bridge.ApplyMovements(context.Background(), 1, 99, batch))
	require.Equal(t, 9.0, stock.quantities[1])

	// The retry re-runs the whole batch; product 1 was already adjusted.
	stock.failOn = 0
	require.NoError(t, bridge.ApplyMovements(context.Background(), 1, 99, batch))
	require.Equal(t, 9.0, stock.quantities[1])
	require.Equal(t, 9.0, stock.quantities[2])
}

func TestMovementsSkipZeroLines(t *testing.T) {
	moves := MovementsForSale([]journal.LineItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 0, Quantity: 5},
		{ProductID: 3, Quantity: 0},
	})
	require.Len(t, moves, 1)
	require.Equal(t, -2.0, moves[0].Quantity)
}
