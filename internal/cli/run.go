package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/orchestrator"
	"github.com/lucasnoah/patchfactory/internal/problem"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one instance through generate → validate → evaluate",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, _ := cmd.Flags().GetString("dataset")
		instance, _ := cmd.Flags().GetString("instance")
		format, _ := cmd.Flags().GetString("format")
		samples, _ := cmd.Flags().GetInt("samples")

		problems, err := problem.Load(dataset)
		if err != nil {
			return err
		}
		p, err := problem.Find(problems, instance)
		if err != nil {
			return err
		}

		orch, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if samples <= 0 {
			samples = orch.Samples()
		}
		if samples > 1 {
			res, runErr := orch.Sample(cmd.Context(), p, samples)
			if res == nil {
				return runErr
			}
			if format == "json" {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			} else {
				printSampled(cmd, res)
			}
			return runErr
		}

		res, runErr := orch.Run(cmd.Context(), p)
		if format == "json" {
			if err := writeJSON(cmd, res.Summary); err != nil {
				return err
			}
		} else {
			printSummary(cmd, res.Summary)
		}
		return runErr
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run many instances concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataset, _ := cmd.Flags().GetString("dataset")
		ids, _ := cmd.Flags().GetStringSlice("instances")
		parallel, _ := cmd.Flags().GetInt("parallel")
		format, _ := cmd.Flags().GetString("format")

		problems, err := problem.Load(dataset)
		if err != nil {
			return err
		}
		selected, err := problem.Select(problems, ids)
		if err != nil {
			return err
		}

		orch, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		results := orch.RunBatch(cmd.Context(), selected, parallel)

		sums := make([]*artifacts.RunSummary, 0, len(results))
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
			if r.Summary != nil {
				sums = append(sums, r.Summary)
			}
		}

		if format == "json" {
			if err := writeJSON(cmd, sums); err != nil {
				return err
			}
		} else {
			printBatch(cmd, results)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d instances failed", failed, len(results))
		}
		return nil
	},
}

func printSummary(cmd *cobra.Command, s *artifacts.RunSummary) {
	if s == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Instance:    %s\n", s.InstanceID)
	fmt.Fprintf(out, "Run:         %s\n", s.RunID)
	fmt.Fprintf(out, "Status:      %s\n", s.Status)
	fmt.Fprintf(out, "Final node:  %s\n", s.FinalNode)
	fmt.Fprintf(out, "Attempts:    generate=%d validate=%d evaluate=%d\n",
		s.GenerationAttempts, s.ValidationAttempts, s.EvaluationAttempts)
	if s.EvaluationStatus != "" {
		fmt.Fprintf(out, "Evaluation:  %s (%s)\n", s.EvaluationStatus, s.EvaluationRunID)
	}
	if s.Samples > 0 {
		fmt.Fprintf(out, "Samples:     %d (selected %d)\n", s.Samples, s.SelectedSample)
	}
	fmt.Fprintf(out, "Patch:       %d files, +%d -%d\n", s.FilesChanged, s.LinesAdded, s.LinesRemoved)
	fmt.Fprintf(out, "Localized:   file=%.2f line=%.2f\n", s.FileScore, s.LineScore)
	fmt.Fprintf(out, "Tokens:      %d prompt, %d completion ($%.4f)\n", s.PromptTokens, s.CompletionTokens, s.CostUSD)
	fmt.Fprintf(out, "Duration:    %s\n", s.Duration)
	if s.Error != "" {
		fmt.Fprintf(out, "Error:       %s\n", firstLine(s.Error))
	}
}

func printSampled(cmd *cobra.Command, res *orchestrator.SampleResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SAMPLE\tTEMP\tTOP_P\tSTATUS\tFILE\tLINE\tERROR")
	for _, c := range res.Candidates {
		fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%s\t%.2f\t%.2f\t%s\n",
			c.Index, c.Sampling.Temperature, c.Sampling.TopP, c.Status, c.FileScore, c.LineScore, firstLine(c.Error))
	}
	w.Flush()
	if d := res.Decision; d != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nSelected:    sample %d (%s): %s\n\n", d.Selected, d.EvalStatus, d.Reason)
	}
	printSummary(cmd, res.Summary)
}

func printBatch(cmd *cobra.Command, results []*orchestrator.RunResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATUS\tNODE\tFILE\tLINE\tERROR")
	for _, r := range results {
		s := r.Summary
		if s == nil {
			msg := ""
			if r.Err != nil {
				msg = firstLine(r.Err.Error())
			}
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%s\n", r.InstanceID, orchestrator.StatusFailed, msg)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			s.InstanceID, s.Status, s.FinalNode, s.FileScore, s.LineScore, firstLine(s.Error))
	}
	w.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func init() {
	runCmd.Flags().String("dataset", "", "dataset file (.jsonl, .json)")
	runCmd.Flags().String("instance", "", "instance id to run")
	runCmd.Flags().String("format", "text", "output format: text|json")
	runCmd.Flags().Int("samples", 0, "candidate patches to sample and select from (default: agent.samples)")
	_ = runCmd.MarkFlagRequired("dataset")
	_ = runCmd.MarkFlagRequired("instance")

	batchCmd.Flags().String("dataset", "", "dataset file (.jsonl, .json)")
	batchCmd.Flags().StringSlice("instances", nil, "instance ids to run (default: all)")
	batchCmd.Flags().Int("parallel", 1, "instances to run concurrently")
	batchCmd.Flags().String("format", "text", "output format: text|json")
	_ = batchCmd.MarkFlagRequired("dataset")
}
