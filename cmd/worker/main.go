package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/blob"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/config"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/database"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/ocr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/pipeline"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/structuring"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/worker"
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
	records := store.NewPostgres(pool, store.NewCursorCodec(cfg.SigningSecret))

	blobs, err := blob.New(cfg)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	var ocrClient ocr.Client
	if cfg.OCREndpoint != "" {
		ocrClient = ocr.NewHTTPClient(cfg.OCREndpoint, cfg.OCRAPIKey)
	} else {
		log.Printf("no OCR endpoint configured, using local PDF extraction")
		ocrClient = ocr.NewLocalPDF()
	}
	structurer := structuring.NewHTTPClient(cfg.StructureEndpoint, cfg.StructureAPIKey, cfg.StructureModel)

	pipe := pipeline.New(records, blobs, ocrClient, structurer, pipeline.Settings{
		OCRTimeout:       cfg.OCRTimeout,
		StructureTimeout: cfg.StructureTimeout,
	})

	sweeper := worker.NewSweeper(pipe, cfg.SweepInterval, cfg.StaleAfter)
	go sweeper.Run(ctx)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	processor := worker.NewProcessor(pipe)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
