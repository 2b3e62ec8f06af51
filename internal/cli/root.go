// Package cli implements the quorum command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/quorum/internal/config"
)

var (
	flagConfig string
	flagJSON   bool
)

// NewRootCmd builds the quorum command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quorum",
		Short: "Dispatch one task to many responders and keep the best answer",
		Long: `Quorum sends a single task to multiple interchangeable text-generation
responders under cost and latency budgets, scores every candidate across six
dimensions, and decides whether to accept, retry with a narrower plan, or
escalate to a human.

Examples:
  quorum submit "summarize the incident report" --max-cost 0.25
  quorum responders
  quorum trail 5f3a...
  quorum serve --addr :8787`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to quorum.yaml (default ./quorum.yaml)")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")

	root.AddCommand(newSubmitCmd())
	root.AddCommand(newRespondersCmd())
	root.AddCommand(newTrailCmd())
	root.AddCommand(newServeCmd())

	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func loadConfig() (config.Config, error) {
	return config.Load(flagConfig)
}

// isJSONOutput reports whether machine output was requested, either
// explicitly or because stdout is not a terminal.
func isJSONOutput() bool {
	if flagJSON {
		return true
	}
	return !isatty.IsTerminal(os.Stdout.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
