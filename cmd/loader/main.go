// Package main is the catalog loader: it sweeps the content bucket and
// registers every dataset object in the catalog. Safe to re-run; inserts are
// idempotent on checksum.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"querydock/internal/config"
	"querydock/internal/ingest"
	"querydock/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("loader failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataset    = flag.String("dataset", "", "dataset name to ingest (required)")
		dataType   = flag.String("type", "", "data type to ingest, e.g. text (required)")
		startAfter = flag.String("start-after", "", "object key to resume after (optional)")
	)
	flag.Parse()

	if *dataset == "" || *dataType == "" {
		return fmt.Errorf("-dataset and -type are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateLoader(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	client := ingest.NewClient(cfg.Storage)
	loader := ingest.NewLoader(client, pgStore, cfg.Storage.Bucket)

	// Keys are laid out as name/data_type/language/md5.zz; a name/type prefix
	// covers every language of one dataset.
	prefix := path.Join(*dataset, *dataType) + "/"
	slog.Info("catalog sweep starting",
		"bucket", cfg.Storage.Bucket,
		"prefix", prefix,
		"start_after", *startAfter,
	)

	summary, err := loader.Run(ctx, prefix, *startAfter)
	if summary != nil {
		slog.Info("catalog sweep finished",
			"listed", summary.Listed,
			"inserted", summary.Inserted,
			"skipped", summary.Skipped,
			"last_key", summary.LastKey,
		)
	}
	if err != nil {
		return fmt.Errorf("catalog sweep: %w", err)
	}
	return nil
}
