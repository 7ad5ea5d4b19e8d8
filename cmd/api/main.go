package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/api"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/blob"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/config"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/database"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/query"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/upload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	blobs, err := blob.New(cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	records := store.NewPostgres(pool, store.NewCursorCodec(cfg.SigningSecret))
	grants := upload.NewService(records, blobs, cfg.GrantTTL)
	queries := query.NewService(records)

	srv := api.New(cfg, grants, queries)
	if err := srv.Run(ctx); err != nil {
		log.Printf("api stopped: %v", err)
		os.Exit(1)
	}
}
