package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ledger/meridian/internal/subledger"
)

// SubledgerOpener is implemented by the subsidiary-ledger service.
type SubledgerOpener interface {
	Open(ctx context.Context, in subledger.CreateInput) (subledger.Record, error)
	SweepOverdue(ctx context.Context) (int64, error)
}

// FailureCounter counts side-effect task failures for alerting.
type FailureCounter interface {
	SideEffectFailed(task string)
}

// NewSubledgerSyncHandler returns the handler for subledger:sync tasks.
// Opening is idempotent per transaction, so retries after a partial failure
// are safe.
func NewSubledgerSyncHandler(svc SubledgerOpener, metrics FailureCounter, log *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SubledgerSyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		rec, err := svc.Open(ctx, subledger.CreateInput{
			TenantID:       payload.TenantID,
			Kind:           subledger.Kind(payload.Kind),
			CounterpartyID: payload.CounterpartyID,
			TransactionID:  payload.TransactionID,
			Number:         payload.Number,
			Amount:         payload.Amount,
			DueDate:        payload.DueDate,
		})
		if err != nil {
			metrics.SideEffectFailed(TaskTypeSubledgerSync)
			log.ErrorContext(ctx, "subledger sync failed",
				slog.Int64("tenant_id", payload.TenantID),
				slog.Int64("transaction_id", payload.TransactionID),
				slog.Any("error", err))
			return err
		}
		log.InfoContext(ctx, "subledger record synced",
			slog.Int64("tenant_id", payload.TenantID),
			slog.Int64("record_id", rec.ID),
			slog.String("kind", payload.Kind))
		return nil
	}
}

// NewOverdueSweepHandler returns the handler for the cron sweep.
func NewOverdueSweepHandler(svc SubledgerOpener, log *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		moved, err := svc.SweepOverdue(ctx)
		if err != nil {
			log.ErrorContext(ctx, "overdue sweep failed", slog.Any("error", err))
			return err
		}
		log.InfoContext(ctx, "overdue sweep done", slog.Int64("records", moved))
		return nil
	}
}
