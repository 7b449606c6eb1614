package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vishguard/internal/mcpserver"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var mf modelFlags
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the classification tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs stay on stderr.
			slog.SetDefault(newLogger(cfg.Server.LogLevel, &slog.LevelVar{}).With("component", "mcp"))
			mf.apply(cfg)

			p, err := mf.predictor(cfg)
			if err != nil {
				return err
			}
			srv, err := mcpserver.New(p, mcpserver.WithVersion(version))
			if err != nil {
				return err
			}
			slog.Info("mcp server running on stdio", "pid", os.Getpid())
			return srv.RunStdio(cmd.Context())
		},
	}
	mf.register(cmd, true)
	return cmd
}
