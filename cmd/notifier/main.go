// The notifier bridges blob-store change notifications onto the task
// queue, where the worker pool picks them up.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/blob"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/config"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	blobs, err := blob.New(cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	log.Printf("notifier listening on bucket %s", cfg.RawBucket)
	for note := range blobs.Listen(ctx) {
		if note.Err != nil {
			log.Printf("notification stream: %v", note.Err)
			continue
		}
		payload := queue.ProcessPayload{Bucket: note.Bucket, ObjectKey: note.ObjectKey}
		if err := queue.EnqueueProcess(ctx, client, payload); err != nil {
			log.Printf("enqueue %s: %v", note.ObjectKey, err)
			continue
		}
		log.Printf("queued processing for %s", note.ObjectKey)
	}
}
