package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ProcessInvoiceTask is scheduled for each blob-created notification.
	ProcessInvoiceTask = "invoice:process"
)

// ProcessPayload carries the notification into the worker. The object key
// alone identifies the record; everything else is looked up.
type ProcessPayload struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
}

// EnqueueProcess enqueues a processing pass for one notification.
func EnqueueProcess(ctx context.Context, client *asynq.Client, payload ProcessPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessInvoiceTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
