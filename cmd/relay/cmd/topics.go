package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/nfrund/relay/internal/activity"
	"github.com/spf13/cobra"
)

var topicsOutputFormat string

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the room activity topics",
	Long: `List the topics the relay publishes on its activity bus, with the
description of each.

Examples:
  relay topics
  relay topics --format json

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON format`,
	RunE: topicsHandler,
}

func topicsHandler(cmd *cobra.Command, args []string) error {
	topics := activity.Topics()

	switch topicsOutputFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(topics)
	case "table":
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tDESCRIPTION")
		for _, t := range topics {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
		}
		return w.Flush()
	default:
		fmt.Fprintf(os.Stderr, "Error: Invalid format '%s'. Valid formats: table, json\n", topicsOutputFormat)
		return fmt.Errorf("invalid format %q", topicsOutputFormat)
	}
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.Flags().StringVarP(&topicsOutputFormat, "format", "f", "table", "Output format (table, json)")
}
