package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/localization"
)

var scoreCmd = &cobra.Command{
	Use:   "score <generated> [reference]",
	Short: "Score how well a patch localizes against a reference patch",
	Long: `Compute the file-level and line-level localization scores of a
generated patch. Without a reference both scores are 0.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		generated, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		var ref *string
		if len(args) == 2 {
			r, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			ref = &r
		}
		scores := localization.Score(generated, ref)
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			return writeJSON(cmd, scores)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "file: %.4f\nline: %.4f\n", scores.File, scores.Line)
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("format", "text", "output format: text|json")
}
