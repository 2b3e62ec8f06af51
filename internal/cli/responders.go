package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/quorum/internal/registry"
)

func newRespondersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "responders",
		Short: "List the responder catalog and availability",
		Long: `Show every configured responder: its lane, model, cost per thousand
tokens, typical latency, and whether its credential is present.

Examples:
  quorum responders
  quorum responders --json`,
		Args: cobra.NoArgs,
		RunE: runResponders,
	}
}

func runResponders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := registry.LoadOrDefault(cfg.CatalogPath)
	if err != nil {
		return err
	}

	profiles := reg.List()
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Lane != profiles[j].Lane {
			return profiles[i].Lane < profiles[j].Lane
		}
		return profiles[i].Priority < profiles[j].Priority
	})

	if isJSONOutput() {
		return printJSON(cmd.OutOrStdout(), profiles)
	}

	th := currentTheme()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, th.Title.Render("Responders"))
	for _, p := range profiles {
		status := th.Accept.Render("available")
		if !p.Available() {
			status = th.Fail.Render("no credential")
		}
		fmt.Fprintf(out, "  %-16s %s  %-24s $%.3f/1k  %5dms  %s\n",
			p.Name,
			th.laneStyle(p.Lane.String()).Render(fmt.Sprintf("%-5s", p.Lane)),
			p.Model, p.CostPerUnit, p.TypicalLatencyMs, status)
	}
	return nil
}
