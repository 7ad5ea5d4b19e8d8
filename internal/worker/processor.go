// Package worker plugs the pipeline into the asynq worker loop and runs
// the reconciliation sweep alongside it.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/pipeline"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/queue"
)

// Processor dispatches queued notifications into the pipeline.
type Processor struct {
	pipe *pipeline.Pipeline
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipe *pipeline.Pipeline) *Processor {
	return &Processor{pipe: pipe}
}

// Handler registers the process task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessInvoiceTask, p.handleProcess)
	return mux
}

func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return p.pipe.HandleNotification(ctx, payload.ObjectKey)
}

// Sweeper periodically reaps records stuck in PROCESSING, the complement
// to the pipeline's best-effort failure writes when an invocation is
// killed mid-flight.
type Sweeper struct {
	pipe     *pipeline.Pipeline
	interval time.Duration
	staleAge time.Duration
}

const sweepBatch = 100

// NewSweeper constructs a Sweeper.
func NewSweeper(pipe *pipeline.Pipeline, interval, staleAge time.Duration) *Sweeper {
	return &Sweeper{pipe: pipe, interval: interval, staleAge: staleAge}
}

// Run blocks, sweeping every interval until the context closes.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := s.pipe.ReconcileStale(ctx, s.staleAge, sweepBatch)
			if err != nil {
				log.Printf("reconciliation sweep: %v", err)
				continue
			}
			if reaped > 0 {
				log.Printf("reconciliation sweep reaped %d stale records", reaped)
			}
		}
	}
}
