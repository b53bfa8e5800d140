package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/orchestrator"
	"github.com/lucasnoah/patchfactory/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <diff>",
	Short: "Lint a patch against a checkout and print the cleaned patch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, _ := cmd.Flags().GetString("repo")
		format, _ := cmd.Flags().GetString("format")

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, cfg.Agent.Log)
		if err != nil {
			return err
		}
		defer logger.Close()

		diff, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}

		orch := orchestrator.NewOrchestrator(cfg.Agent, orchestrator.Deps{Logger: logger.Logger})
		v, err := orch.NewValidator(repoPath, logger.Logger)
		if err != nil {
			return err
		}
		out := v.Validate(cmd.Context(), diff)

		if format == "json" {
			if err := writeJSON(cmd, out); err != nil {
				return err
			}
		} else if out.Status == validator.StatusPassed {
			fmt.Fprint(cmd.OutOrStdout(), out.CleanedPatch)
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), out.Message)
		}
		if out.Status != validator.StatusPassed {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("repo", ".", "repository checkout the patch targets")
	validateCmd.Flags().String("format", "text", "output format: text|json")
}
