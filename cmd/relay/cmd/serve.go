package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/logging"
	"github.com/nfrund/relay/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay server. Configuration is read from a .env file in the
working directory, if present, and from RELAY_* environment variables.

Examples:
  relay serve
  RELAY_ADDR=:9000 RELAY_RATE_BACKEND=redis relay serve`,
	RunE: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx := cmd.Context()
	s, err := server.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to build server", "error", err)
		return err
	}
	return s.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
