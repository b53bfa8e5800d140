package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/patchfactory/internal/checks"
	"github.com/lucasnoah/patchfactory/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect agent configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the agent configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowYAML bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the lifecycle ceilings and validation checks a run will use",
	Long: `Show how a run is configured once defaults are merged: the retry
ceilings of the generate/validate/evaluate lifecycle and the argv of every
validation check, in the order they run against each patched file.
--yaml prints the merged configuration file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configShowYAML {
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshalling config: %w", err)
			}
			cmd.Print(string(data))
			return nil
		}
		return printRunPlan(cmd.OutOrStdout(), cfg.Agent)
	},
}

func printRunPlan(w io.Writer, a config.Agent) error {
	resolved, err := checks.FromConfig(a)
	if err != nil {
		return err
	}

	l := a.Lifecycle
	fmt.Fprintf(w, "Model:       %s (%s)\n", a.Model.Name, a.Model.Vendor)
	fmt.Fprintf(w, "Output:      %s\n", a.Paths.Output)
	fmt.Fprintf(w, "Samples:     %d per instance\n", a.Samples)
	fmt.Fprintln(w, "Lifecycle:")
	fmt.Fprintf(w, "  generate   %d agent steps, %d graph steps total\n", a.MaxSteps, l.StepLimit)
	fmt.Fprintf(w, "  validate   max %d attempts\n", l.MaxValidationAttempts)
	fmt.Fprintf(w, "  evaluate   max %d attempts, retry on unresolved: %t\n", l.MaxEvaluationAttempts, l.RetryOnUnresolved)

	fmt.Fprintln(w, "Validation checks:")
	if len(resolved) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, c := range resolved {
		timeout := "none"
		if c.Timeout > 0 {
			timeout = c.Timeout.String()
		}
		fmt.Fprintf(w, "  %d. %s: %s\n", i+1, c.Name, strings.Join(c.Command, " "))
		fmt.Fprintf(w, "     parser %s, timeout %s\n", checks.ResolveParser(c.Parser), timeout)
		if c.AutoFix && len(c.FixCommand) > 0 {
			fmt.Fprintf(w, "     fix: %s\n", strings.Join(c.FixCommand, " "))
		}
	}
	return nil
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowYAML, "yaml", false, "print the merged configuration as YAML")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
