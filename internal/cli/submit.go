package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/quorum/internal/orchestrator"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

var (
	submitMaxCost   float64
	submitWallClock time.Duration
	submitDryRun    bool
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Dispatch a task and print the accepted answer or the escalation trail",
		Long: `Submit one task. The planner picks lanes from the prompt's complexity and
the budget, the dispatcher fans out to every planned responder concurrently,
and the scorer decides the outcome. Pass "-" as the prompt to read it from
stdin.

Examples:
  quorum submit "summarize the incident report"
  quorum submit "review this design" --max-cost 0.50 --max-wall-clock 2m
  quorum submit "quick sanity check" --max-cost 0.01 --json
  cat report.md | quorum submit - --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmit,
	}

	cmd.Flags().Float64Var(&submitMaxCost, "max-cost", 0, "Max dollar spend for this task (0 = configured default)")
	cmd.Flags().DurationVar(&submitWallClock, "max-wall-clock", 0, "Max wall-clock time (0 = configured default)")
	cmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "Exercise the pipeline with canned responders, no credentials or network needed")

	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	prompt := args[0]
	if prompt == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = string(raw)
	}

	var st *stack
	if submitDryRun {
		st, err = buildDryRunStack(cfg)
	} else {
		st, err = buildStack(cfg, nil)
	}
	if err != nil {
		return err
	}
	defer st.Close()

	tk, err := task.New(prompt, task.Budget{MaxCost: submitMaxCost, MaxWallClock: submitWallClock})
	if err != nil {
		return err
	}

	res, err := st.orch.Submit(cmd.Context(), tk)
	if err != nil {
		return err
	}

	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), res)
	}

	if res.Accepted() {
		displayFinal(cmd, res.Final, res.TaskID)
		return nil
	}
	displayEscalation(cmd, res.Escalation, res.TaskID)
	return nil
}

func displayFinal(cmd *cobra.Command, f *orchestrator.Final, taskID string) {
	th := currentTheme()
	out := cmd.OutOrStdout()
	width := terminalWidth()

	fmt.Fprintln(out, th.Accept.Render("ACCEPTED"), th.Subtitle.Render(taskID))
	who := strings.Join(f.Responders, " + ")
	if f.Merged {
		who += " (merged)"
	}
	fmt.Fprintf(out, "%s confidence %.3f after %d attempt(s), $%.4f spent\n\n",
		th.Dim.Render(who), f.Confidence, f.Attempts, f.TotalCost)

	fmt.Fprintln(out, wordwrap.String(f.Text, width))

	if len(f.Summary.Bullets) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, th.Title.Render("Key points"))
		for _, b := range f.Summary.Bullets {
			fmt.Fprintf(out, "  • %s %s\n",
				runewidth.Truncate(b.Text, width-10, "…"),
				th.Dim.Render(fmt.Sprintf("[%s %.2f]", b.Source, b.Confidence)))
		}
	}
	if len(f.Summary.Recommendations) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, th.Title.Render("Recommendations"))
		for _, rec := range f.Summary.Recommendations {
			fmt.Fprintf(out, "  → %s\n", runewidth.Truncate(rec, width-6, "…"))
		}
	}
}

func displayEscalation(cmd *cobra.Command, e *orchestrator.Escalation, taskID string) {
	th := currentTheme()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, th.Fail.Render("ESCALATED"), th.Subtitle.Render(taskID))
	fmt.Fprintf(out, "%s after %d attempt(s), $%.4f spent\n\n", e.Reason, e.Attempts, e.TotalCost)

	fmt.Fprintln(out, th.Title.Render("Decision trail"))
	for _, rec := range e.Trail {
		lanes := make([]string, 0, 3)
		for _, lane := range rec.Plan.ActiveLanes() {
			lanes = append(lanes, th.laneStyle(lane.String()).Render(lane.String()))
		}
		laneList := strings.Join(lanes, ",")
		if laneList == "" {
			laneList = th.Dim.Render("none")
		}
		fmt.Fprintf(out, "  attempt %d  lanes=%s  overall=%.3f  %s\n",
			rec.Decision.Attempt, laneList, rec.Decision.Overall,
			th.Warn.Render(rec.Decision.Fate))
		fmt.Fprintf(out, "             %s\n", th.Dim.Render(rec.Decision.Reason))
	}
}

// terminalWidth returns the stdout width, defaulting to 80 for pipes.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 80
}
