// Command bulkvalidate validates a CSV of addresses without running the
// HTTP server and writes the results CSV.
//
// Usage:
//
//	bulkvalidate -in addresses.csv -out results.csv [-country south-africa] [-workers 8]
//
// Configuration comes from the environment (and .env) like the server.
// Logs go to stderr so results can be piped from stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/addrintel/internal/config"
	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bulkvalidate:", core.FormatUserError(err))
		slog.Debug("technical error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	in := flag.String("in", "", "input CSV file (default: stdin)")
	out := flag.String("out", "", "output CSV file (default: stdout)")
	country := flag.String("country", "", "country for rows without a country column")
	workers := flag.Int("workers", 0, "rows validated in parallel (default: BATCH_WORKERS)")
	rules := flag.String("rules", "", "country rules directory (default: COUNTRY_RULES_DIR)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *rules != "" {
		cfg.Country.RulesDir = *rules
	}
	// The whole file is one local job, so upload limits do not apply.
	cfg.Batch.MaxConcurrentJobs = 1
	cfg.Batch.MaxUploadBytes = 0

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interpreter, err := core.NewInterpreter(ctx, cfg.Oracle)
	if err != nil {
		return err
	}
	defer core.CloseInterpreter(interpreter)

	service, err := core.NewService(cfg, core.Deps{Interpreter: interpreter})
	if err != nil {
		return err
	}
	defer service.Close(context.Background())

	var src io.Reader = os.Stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	rows, err := service.ParseBatch(src, *country)
	if err != nil {
		return err
	}
	slog.Info("validating batch", "rows", len(rows), "workers", cfg.Batch.Workers)

	snap, err := service.RunBatch(ctx, rows)
	if err != nil {
		return err
	}

	var dst io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}
	if err := core.WriteResultsCSV(dst, snap); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	slog.Info("batch finished",
		"job_id", snap.ID,
		"status", snap.Status,
		"succeeded", snap.Succeeded,
		"failed", snap.Failed,
		"cancelled", snap.Cancelled,
	)
	return nil
}
