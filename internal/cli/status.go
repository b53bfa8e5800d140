package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
)

var statusCmd = &cobra.Command{
	Use:   "status [instance-id]",
	Short: "Show stored run summaries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		filter, _ := cmd.Flags().GetString("status")
		store := artifacts.NewStore(cfg.Agent.Paths.Output)

		if len(args) == 1 {
			sum, err := store.GetSummary(args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(cmd, sum)
			}
			printSummary(cmd, sum)
			return nil
		}

		sums, err := store.List(filter)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd, sums)
		}
		if len(sums) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No runs in %s\n", store.BaseDir())
			return nil
		}

		counts := map[string]int{}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tSTATUS\tNODE\tATTEMPTS\tFILE\tLINE\tFINISHED")
		for _, s := range sums {
			counts[s.Status]++
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d/%d\t%.2f\t%.2f\t%s\n",
				s.InstanceID, s.Status, s.FinalNode,
				s.GenerationAttempts, s.ValidationAttempts, s.EvaluationAttempts,
				s.FileScore, s.LineScore, s.FinishedAt)
		}
		w.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d runs: %d resolved, %d unresolved, %d error, %d failed\n",
			len(sums), counts["resolved"], counts["unresolved"], counts["error"], counts["failed"])
		return nil
	},
}

func init() {
	statusCmd.Flags().String("status", "", "only show runs with this status")
	statusCmd.Flags().String("format", "text", "output format: text|json")
}
