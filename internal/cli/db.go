package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run ledger management",
}

func ledgerFromConfig(cmd *cobra.Command) (*db.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return openDB(cmd.Context(), cfg.Agent.Ledger.DatabaseURL)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply ledger schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cleanup, err := ledgerFromConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintln(cmd.OutOrStdout(), "Ledger schema is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the ledger tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		d, cleanup, err := ledgerFromConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Ledger reset.")
		return nil
	},
}

var dbRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		d, cleanup, err := ledgerFromConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := d.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd, runs)
		}
		printRuns(cmd, runs)
		return nil
	},
}

var dbHistoryCmd = &cobra.Command{
	Use:   "history <instance-id>",
	Short: "Show every recorded run of an instance and its node events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		d, cleanup, err := ledgerFromConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := d.RunHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded for %s\n", args[0])
			return nil
		}
		out := cmd.OutOrStdout()
		for _, r := range runs {
			fmt.Fprintf(out, "Run %s  %s  (%s)\n", r.ID, r.Status, r.StartedAt.Format(time.RFC3339))
			events, err := d.NodeEvents(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(out, "  %3d  %-16s %-7s attempt=%d  %s\n", e.Step, e.Node, e.Result, e.Attempt, e.Duration.Round(time.Millisecond))
			}
		}
		return nil
	},
}

func printRuns(cmd *cobra.Command, runs []db.Run) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tINSTANCE\tSTATUS\tNODE\tFILE\tLINE\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			r.ID, r.InstanceID, r.Status, r.FinalNode, r.FileScore, r.LineScore,
			r.StartedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm dropping all ledger data")
	dbRunsCmd.Flags().Int("limit", 50, "maximum runs to list")
	dbRunsCmd.Flags().String("format", "text", "output format: text|json")
	dbHistoryCmd.Flags().String("format", "text", "output format: text|json")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbRunsCmd)
	dbCmd.AddCommand(dbHistoryCmd)
}
