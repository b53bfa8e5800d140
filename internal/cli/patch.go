package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/patch"
)

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Inspect and rewrite unified diffs",
}

var patchApplyCmd = &cobra.Command{
	Use:   "apply <file> <diff>",
	Short: "Apply the hunks of a diff that target file and print the result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		original, err := os.ReadFile(args[0])
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		diff, err := readInput(cmd, args[1])
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("path")
		if target == "" {
			target = args[0]
		}
		out, err := patch.Apply(string(original), diff, target)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var patchRepairCmd = &cobra.Command{
	Use:   "repair <diff>",
	Short: "Recompute hunk header line counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		diff, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), patch.RepairHunkHeaders(diff))
		return nil
	},
}

var patchRediffCmd = &cobra.Command{
	Use:   "rediff <before> <after>",
	Short: "Produce a unified diff between two versions of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		before, err := os.ReadFile(args[0])
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		after, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = args[1]
		}
		fmt.Fprint(cmd.OutOrStdout(), patch.Rediff(path, string(before), string(after)))
		return nil
	},
}

var patchSplitCmd = &cobra.Command{
	Use:   "split <diff>",
	Short: "List the per-file chunks of a multi-file diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		diff, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		chunks := patch.Split(diff)
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, chunks)
		}
		for _, c := range chunks {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", c.Path, len(c.Diff))
		}
		return nil
	},
}

var patchStatsCmd = &cobra.Command{
	Use:   "stats <diff>",
	Short: "Count files and changed lines in a diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		diff, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		stats, err := patch.Stats(diff)
		if err != nil {
			return err
		}
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d files, +%d -%d\n", stats.Files, stats.LinesAdded, stats.LinesRemoved)
		for _, p := range stats.Paths {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
		}
		return nil
	},
}

func init() {
	patchApplyCmd.Flags().String("path", "", "path of the file inside the diff (default: the file argument)")
	patchRediffCmd.Flags().String("path", "", "path to write in the diff headers (default: the after argument)")
	patchSplitCmd.Flags().String("format", "text", "output format: text|json")
	patchStatsCmd.Flags().String("format", "text", "output format: text|json")

	patchCmd.AddCommand(patchApplyCmd)
	patchCmd.AddCommand(patchRepairCmd)
	patchCmd.AddCommand(patchRediffCmd)
	patchCmd.AddCommand(patchSplitCmd)
	patchCmd.AddCommand(patchStatsCmd)
}
