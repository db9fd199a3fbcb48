// Package cmd holds the relay command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Real-time chat relay",
	Long: `relay is a single-room chat relay over websockets with presence,
typing indicators and delivery receipts.

Available commands:
  serve     Run the relay server
  chat      Join a relay from the terminal
  topics    List the room activity topics published on the bus
  version   Print the version

Use "relay [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
