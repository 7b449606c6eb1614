package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vishguard/internal/app"
	"github.com/MrWong99/vishguard/internal/config"
	"github.com/MrWong99/vishguard/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cmd, g, cfg, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload log level, origins and token enforcement when the config file changes")
	return cmd
}

func serve(parent context.Context, cmd *cobra.Command, g *globalFlags, cfg *config.Config, watch bool) error {
	levelVar := setupLogging(cfg)
	slog.Info("vishguard starting",
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
		RuntimeMetrics: cfg.Server.RuntimeMetrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler),
		app.WithLogLevel(levelVar),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if watch && fileExists(g.configPath) {
		w, err := config.NewWatcher(g.configPath, application.Reload)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return err
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	heading.Fprintln(w, "vishguard startup summary")
	printProvider(w, "STT", cfg.Providers.STT)
	printProvider(w, "OCR", cfg.Providers.OCR)
	printProvider(w, "Classifier", cfg.Providers.Classifier)
	printProvider(w, "LLM", cfg.Providers.LLM)
	printRow(w, "Model dir", cfg.Model.Paths().Weights)
	printRow(w, "History", string(cfg.History.Backend))
	mcpState := "(disabled)"
	if cfg.MCP.Enabled {
		mcpState = cfg.MCP.Path
	}
	printRow(w, "MCP", mcpState)
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
}

func printProvider(w io.Writer, kind string, e config.ProviderEntry) {
	value := e.Name
	switch {
	case value == "":
		value = "(not configured)"
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		value += fmt.Sprintf(" (+%d fallback)", n)
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, key, value string) {
	fmt.Fprintf(w, "  %-12s: %s\n", key, value)
}
