package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/analytics"
	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/db"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Aggregate outcomes over stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runs, err := artifacts.NewStore(cfg.Agent.Paths.Output).List("")
		if err != nil {
			return err
		}

		overview := analytics.Summarize(runs, since)
		attempts := analytics.Attempts(runs, since)
		if format == "json" {
			return writeJSON(cmd, map[string]any{"overview": overview, "attempts": attempts})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Runs:         %d (%.1f%% resolved)\n", overview.Runs, overview.ResolvedPct)
		statuses := make([]string, 0, len(overview.ByStatus))
		for s := range overview.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(out, "  %-12s %d\n", s, overview.ByStatus[s])
		}
		fmt.Fprintf(out, "Localization: file %.1f%%, line %.1f%%\n", overview.FileHitPct, overview.LineCoveragePct)
		fmt.Fprintf(out, "Tokens:       %d prompt, %d completion ($%.4f)\n\n",
			overview.PromptTokens, overview.CompletionTokens, overview.CostUSD)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tRUNS\t1\t2\t3+")
		for _, a := range attempts {
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\n", a.Phase, a.Total, a.One, a.Two, a.ThreePlus)
		}
		return w.Flush()
	},
}

var analyticsNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Per-node durations from the run ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")
		d, cleanup, err := ledgerFromConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := d.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		var events []db.NodeEvent
		for _, r := range runs {
			evs, err := d.NodeEvents(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			events = append(events, evs...)
		}

		stats := analytics.NodeDurations(events)
		if format == "json" {
			return writeJSON(cmd, stats)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tCOUNT\tPASSED\tAVG\tP50\tP95")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1fs\t%.1fs\t%.1fs\n", s.Node, s.Count, s.Passed, s.Avg, s.P50, s.P95)
		}
		return w.Flush()
	},
}

func sinceFlag(cmd *cobra.Command) (time.Time, error) {
	v, _ := cmd.Flags().GetString("since")
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want a duration (72h) or a date (2006-01-02)", v)
	}
	return t, nil
}

func init() {
	analyticsCmd.Flags().String("since", "", "only include runs finished after this date or duration ago")
	analyticsCmd.Flags().String("format", "text", "output format: text|json")
	analyticsNodesCmd.Flags().Int("limit", 200, "number of recent runs to include")
	analyticsNodesCmd.Flags().String("format", "text", "output format: text|json")
	analyticsCmd.AddCommand(analyticsNodesCmd)
}
