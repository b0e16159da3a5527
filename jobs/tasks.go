// Package jobs defines the background tasks that carry a posted transaction's
// side effects: opening subsidiary records and moving stock. Tasks are
// deduplicated by id so a retried enqueue for the same transaction collapses
// into one execution.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSubledgerSync opens a receivable or payable for a posted
	// transaction.
	TaskTypeSubledgerSync = "subledger:sync"
	// TaskTypeStockSync applies stock movements for a posted transaction.
	TaskTypeStockSync = "inventory:sync"
	// TaskTypeOverdueSweep marks past-due open records overdue.
	TaskTypeOverdueSweep = "subledger:overdue_sweep"
)

// SubledgerSyncPayload describes the record to open.
type SubledgerSyncPayload struct {
	TenantID       int64     `json:"tenant_id"`
	Kind           string    `json:"kind"`
	CounterpartyID int64     `json:"counterparty_id"`
	TransactionID  int64     `json:"transaction_id"`
	Number         string    `json:"number"`
	Amount         float64   `json:"amount"`
	DueDate        time.Time `json:"due_date"`
}

// MovementPayload is one stock delta within a stock sync task.
type MovementPayload struct {
	ProductID int64   `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Reason    string  `json:"reason"`
}

// StockSyncPayload describes the stock movements of one transaction.
type StockSyncPayload struct {
	TenantID      int64             `json:"tenant_id"`
	TransactionID int64             `json:"transaction_id"`
	Movements     []MovementPayload `json:"movements"`
}

// NewSubledgerSyncTask constructs the record-open task. The task id is keyed
// to the transaction and kind, so enqueuing twice for the same transaction
// yields one task.
func NewSubledgerSyncTask(payload SubledgerSyncPayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID(fmt.Sprintf("%s:%d:%d:%s", TaskTypeSubledgerSync, payload.TenantID, payload.TransactionID, payload.Kind)),
		asynq.MaxRetry(10),
		asynq.Timeout(30 * time.Second),
	}
	return asynq.NewTask(TaskTypeSubledgerSync, data), opts, nil
}

// NewStockSyncTask constructs the stock-movement task, deduplicated per
// transaction.
func NewStockSyncTask(payload StockSyncPayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID(fmt.Sprintf("%s:%d:%d", TaskTypeStockSync, payload.TenantID, payload.TransactionID)),
		asynq.MaxRetry(10),
		asynq.Timeout(30 * time.Second),
	}
	return asynq.NewTask(TaskTypeStockSync, data), opts, nil
}

// NewOverdueSweepTask constructs the cron task that ages open records.
func NewOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeOverdueSweep, nil)
}
