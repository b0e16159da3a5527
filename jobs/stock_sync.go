package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ledger/meridian/internal/invbridge"
)

// StockMover is implemented by the inventory bridge.
type StockMover interface {
	ApplyMovements(ctx context.Context, tenantID, txnID int64, movements []invbridge.Movement) error
}

// NewStockSyncHandler returns the handler for inventory:sync tasks.
func NewStockSyncHandler(bridge StockMover, metrics FailureCounter, log *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockSyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		movements := make([]invbridge.Movement, 0, len(payload.Movements))
		for _, mv := range payload.Movements {
			movements = append(movements, invbridge.Movement{
				ProductID: mv.ProductID,
				Quantity:  mv.Quantity,
				Reason:    mv.Reason,
			})
		}
		if err := bridge.ApplyMovements(ctx, payload.TenantID, payload.TransactionID, movements); err != nil {
			metrics.SideEffectFailed(TaskTypeStockSync)
			log.ErrorContext(ctx, "stock sync failed",
				slog.Int64("tenant_id", payload.TenantID),
				slog.Int64("transaction_id", payload.TransactionID),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}
