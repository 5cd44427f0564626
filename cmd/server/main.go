package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/addrintel/internal/config"
	"github.com/JonMunkholm/addrintel/internal/confirm"
	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/logging"
	"github.com/JonMunkholm/addrintel/internal/metrics"
	"github.com/JonMunkholm/addrintel/internal/oracle"
	"github.com/JonMunkholm/addrintel/internal/store"
	"github.com/JonMunkholm/addrintel/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until it stops. Resources opened here
// are released by deferred calls on every return path.
func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"oracle_provider", cfg.Oracle.Provider,
		"country_rules", cfg.Country.RulesDir,
		"batch_workers", cfg.Batch.Workers,
		"confirmation_enabled", cfg.Confirmation.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Results go to PostgreSQL when configured, memory otherwise
	var results store.Store = store.NewMemory()
	if cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database.URL, store.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		pg := store.NewPostgres(pool)
		defer pg.Close()

		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		results = pg

		// Log which database we connected to
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database")
		}
	} else {
		slog.Warn("DATABASE_URL not set, results are kept in memory")
	}

	interpreter, err := core.NewInterpreter(ctx, cfg.Oracle)
	if err != nil {
		return fmt.Errorf("create oracle: %w", err)
	}
	defer func() {
		if err := core.CloseInterpreter(interpreter); err != nil {
			slog.Warn("failed to close oracle client", "error", err)
		}
	}()
	slog.Info("oracle ready", "model", oracle.ModelName(interpreter))

	var agent confirm.Agent
	if cfg.Confirmation.Enabled() {
		agent = confirm.NewHTTPAgent(confirm.HTTPAgentConfig{
			BaseURL:       cfg.Confirmation.AgentURL,
			APIKey:        cfg.Confirmation.APIKey,
			Timeout:       cfg.Confirmation.Timeout,
			RatePerSecond: cfg.Confirmation.RatePerSecond,
			Burst:         cfg.Confirmation.Burst,
			DefaultRegion: cfg.Confirmation.DefaultRegion,
			DefaultPhone:  cfg.Confirmation.DefaultPhone,
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	service, err := core.NewService(cfg, core.Deps{
		Interpreter: interpreter,
		Agent:       agent,
		Store:       results,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	}

	if err := service.Start(ctx); err != nil {
		sctx, cancel := shutdownCtx()
		defer cancel()
		_ = service.Close(sctx)
		return fmt.Errorf("start service: %w", err)
	}

	server := web.NewServer(service, cfg, web.WithMetrics(m, reg))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server stopped: %w", err)
		}
	}

	sctx, cancel := shutdownCtx()
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Running jobs are cancelled and confirmation polling stops
	status := service.BatchLimiter()
	if status.Active > 0 {
		slog.Info("cancelling running batch jobs", "active", status.Active)
	}
	if err := service.Close(sctx); err != nil {
		slog.Warn("batch jobs did not stop in time", "error", err)
	}
	slog.Info("server stopped")
	return serveErr
}
