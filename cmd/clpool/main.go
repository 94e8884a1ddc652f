package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/concentrated-liquidity-go/cmd/clpool/config"
	"github.com/defistate/concentrated-liquidity-go/journal"
	"github.com/defistate/concentrated-liquidity-go/journal/postgres"
	"github.com/defistate/concentrated-liquidity-go/pair"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app is everything a command needs, built from the loaded config.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    store.Store
	journal  journal.Sink
	engine   *pair.Engine
}

func (a *app) Close() {
	if a.cfg.MetricsOut != "" {
		if err := a.writeMetrics(); err != nil {
			a.logger.Error("Failed to write metrics", "path", a.cfg.MetricsOut, "error", err)
		}
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error("Failed to close journal", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store", "error", err)
	}
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	rootLogger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sink, err := openJournal(cmd.Context(), cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	engine, err := pair.NewEngine(&pair.Config{
		Store:          st,
		Registry:       registry,
		Logger:         rootLogger.With("component", "pair-engine"),
		Journal:        sink,
		MaxSwapSteps:   cfg.MaxSwapSteps,
		TickRangeLimit: cfg.TickRangeLimit,
	})
	if err != nil {
		sink.Close()
		st.Close()
		return nil, err
	}

	rootLogger.Debug("runtime ready", "db", cfg.DBPath, "journal", cfg.JournalPath, "postgres", cfg.PGDSN != "")
	return &app{cfg: cfg, logger: rootLogger, registry: registry, store: st, journal: sink, engine: engine}, nil
}

// openJournal prefers Postgres when a DSN is configured, then a JSONL file,
// and discards events otherwise.
func openJournal(ctx context.Context, cfg config.Config) (journal.Sink, error) {
	switch {
	case cfg.PGDSN != "":
		sink, err := postgres.NewSink(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres journal: %w", err)
		}
		return sink, nil
	case cfg.JournalPath != "":
		f, err := os.OpenFile(cfg.JournalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return journal.NewJSONLSink(f)
	default:
		return journal.Discard, nil
	}
}

// writeMetrics dumps the registry in the Prometheus text format.
func (a *app) writeMetrics() error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(a.cfg.MetricsOut)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return err
		}
	}
	return nil
}
