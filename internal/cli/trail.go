package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/quorum/internal/history"
)

func newTrailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trail <task-id>",
		Short: "Show the persisted decision trail for a task",
		Long: `Print every recorded dispatch outcome and fate decision for a task, in
order. Requires a persistent history_path in the configuration; in-memory
history does not survive between runs.

Examples:
  quorum trail 5f3a1b2c-...
  quorum trail 5f3a1b2c-... --json`,
		Args: cobra.ExactArgs(1),
		RunE: runTrail,
	}
}

func runTrail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" || cfg.HistoryPath == history.InMemoryDSN {
		return fmt.Errorf("history_path is not configured; trails are only available with a persistent store")
	}

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	trail, err := store.TaskTrail(args[0])
	if err != nil {
		return err
	}
	if len(trail.Outcomes) == 0 && len(trail.Decisions) == 0 {
		return fmt.Errorf("no history for task %s", args[0])
	}

	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), trail)
	}

	th := currentTheme()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, th.Title.Render("Outcomes"))
	for _, o := range trail.Outcomes {
		line := fmt.Sprintf("  %-16s %s  %-10s %6dms  $%.4f",
			o.Responder, th.laneStyle(o.Lane).Render(fmt.Sprintf("%-5s", o.Lane)),
			o.Status, o.LatencyMs, o.Cost)
		fmt.Fprintln(out, line)
		if o.Error != "" {
			fmt.Fprintf(out, "    %s\n", th.Fail.Render(o.Error))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, th.Title.Render("Decisions"))
	for _, d := range trail.Decisions {
		fmt.Fprintf(out, "  attempt %d  overall=%.3f  %s  %s\n",
			d.Attempt, d.Overall, th.Warn.Render(d.Fate), th.Dim.Render(d.Reason))
	}
	return nil
}
