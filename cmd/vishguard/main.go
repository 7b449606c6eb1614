// Command vishguard is the entry point for the vishing detection server and
// its offline tooling.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vishguard/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vishguard: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "vishguard",
		Short:         "Vishing call detection server and tooling",
		Long:          "vishguard classifies call transcripts, screenshots and recordings as scam or normal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug|info|warn|error)")

	root.AddCommand(
		newServeCmd(g),
		newPredictCmd(g),
		newScanCmd(g),
		newPrepareCmd(g),
		newInitWeightsCmd(),
		newEvaluateCmd(g),
		newMCPCmd(g),
		newHashPasswordCmd(),
	)
	return root
}

// loadConfig reads the config file. A missing file is only an error when the
// path was given explicitly; otherwise the defaults are used.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		if err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", g.configPath)
	default:
		return nil, err
	}

	if g.logLevel != "" {
		lvl := config.LogLevel(g.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("invalid --log-level %q", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	return cfg, nil
}

// newLogger creates a text slog.Logger writing to stderr whose level follows
// v. The level is seeded from the config.
func newLogger(level config.LogLevel, v *slog.LevelVar) *slog.Logger {
	v.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: v}))
}

// setupLogging installs the process logger and returns its level handle.
func setupLogging(cfg *config.Config) *slog.LevelVar {
	v := &slog.LevelVar{}
	slog.SetDefault(newLogger(cfg.Server.LogLevel, v))
	return v
}
