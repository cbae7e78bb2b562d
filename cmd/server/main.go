package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/api"
	"github.com/dgallion1/docingest/internal/chunker"
	"github.com/dgallion1/docingest/internal/config"
	"github.com/dgallion1/docingest/internal/embedding"
	"github.com/dgallion1/docingest/internal/logging"
	"github.com/dgallion1/docingest/internal/metrics"
	"github.com/dgallion1/docingest/internal/parser"
	"github.com/dgallion1/docingest/internal/pipeline"
	"github.com/dgallion1/docingest/internal/preprocess"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("DOCINGEST_CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docingest: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "docingest: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics.RegisterIngestMetrics()
	metrics.RegisterEmbeddingMetrics()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	latency := embedding.NewLatencyStats(time.Hour)
	embedder := embedding.NewOpenAI(embedding.Config{
		APIKey:        cfg.Embedding.APIKey,
		BaseURL:       cfg.Embedding.BaseURL,
		Model:         cfg.Embedding.Model,
		Dimensions:    cfg.Embedding.Dimensions,
		BatchSize:     cfg.Embedding.BatchSize,
		MaxInputRunes: cfg.Embedding.MaxInputRunes,
		Timeout:       cfg.Embedding.Timeout,
		Logger:        log.Named("embedding"),
		Stats:         latency,
	})

	pools, err := pipeline.NewPools(cfg.Embedding.Concurrency, cfg.Store.Concurrency, log)
	if err != nil {
		return fmt.Errorf("creating worker pools: %w", err)
	}
	defer pools.Release()

	var pre preprocess.Preprocessor
	if cfg.Ingest.Preprocess {
		opts := []preprocess.Option{preprocess.WithStopwords(cfg.Ingest.Stopwords...)}
		if cfg.Ingest.KeepLatin {
			opts = append(opts, preprocess.WithLatin())
		}
		pre = preprocess.New(opts...)
	}

	coord, err := pipeline.NewCoordinator(embedder, store, pools, pipeline.Options{
		Chunk: chunker.Config{
			MaxChunkLength: cfg.Chunk.MaxLength,
			Overlap:        cfg.Chunk.Overlap,
			MinChunkLength: cfg.Chunk.MinLength,
		},
		Parser:       parserOptions(cfg, log),
		MaxFileSize:  cfg.Ingest.MaxUploadBytes,
		Preprocessor: pre,
	}, log.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		WorkerCount: cfg.Ingest.Workers,
		QueueSize:   cfg.Ingest.QueueSize,
		JobTTL:      cfg.Ingest.JobTTL,
		JobTimeout:  cfg.Ingest.JobTimeout,
	}, coord, log.Named("jobs"))
	orch.Start(ctx)
	defer orch.Stop()

	srv := api.NewServer(coord, orch, latency, log.Named("api"), api.Config{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting docingest",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Backend),
			zap.String("model", cfg.Embedding.Model))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func parserOptions(cfg config.Config, log *zap.Logger) parser.Options {
	opts := parser.DefaultOptions()
	opts.Layout = parser.Layout{
		Lvl1:        cfg.Spreadsheet.Lvl1,
		Lvl2:        cfg.Spreadsheet.Lvl2,
		Lvl3:        cfg.Spreadsheet.Lvl3,
		Detail:      cfg.Spreadsheet.Detail,
		Remarks:     cfg.Spreadsheet.Remarks,
		HeaderNames: cfg.Spreadsheet.HeaderNames,
	}
	if cfg.Ingest.PDFColumnGap > 0 {
		opts.ColumnGap = cfg.Ingest.PDFColumnGap
	}
	opts.Logger = log.Named("parser")
	return opts
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "chromem":
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:           cfg.Chromem.Path,
			Compress:       cfg.Chromem.Compress,
			CollectionName: cfg.Chromem.Collection,
		}, log.Named("chromem"))
	case "qdrant":
		return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			APIKey:         cfg.Qdrant.APIKey,
			UseTLS:         cfg.Qdrant.UseTLS,
			CollectionName: cfg.Qdrant.Collection,
			VectorSize:     cfg.Qdrant.VectorSize,
			MaxMessageSize: cfg.Qdrant.MaxMessageSize,
			Retry: vectorstore.RetryPolicy{
				MaxAttempts: cfg.Store.MaxRetries,
				Backoff:     cfg.Store.RetryBackoff,
			},
		}, log.Named("qdrant"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
