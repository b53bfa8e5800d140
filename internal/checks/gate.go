package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GateCheckResult holds the result of a single check within a gate run.
type GateCheckResult struct {
	Check     string `json:"check"`
	Passed    bool   `json:"passed"`
	AutoFixed bool   `json:"auto_fixed,omitempty"`
	Runs      int    `json:"runs"`
	Summary   string `json:"summary,omitempty"`
}

// GateFailure describes a remaining failure after a gate run.
type GateFailure struct {
	Summary string `json:"summary"`
	Output  string `json:"output,omitempty"`
}

// GateResult is the structured output of a full gate run over one file.
type GateResult struct {
	File              string                 `json:"file"`
	Passed            bool                   `json:"passed"`
	Checks            []GateCheckResult      `json:"checks"`
	RemainingFailures map[string]GateFailure `json:"remaining_failures,omitempty"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Diagnostic joins the output of every remaining failure, in check order.
func (g *GateResult) Diagnostic() string {
	var parts []string
	for _, c := range g.Checks {
		f, ok := g.RemainingFailures[c.Check]
		if !ok {
			continue
		}
		out := f.Output
		if out == "" {
			out = f.Summary
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", c.Check, out))
	}
	return strings.Join(parts, "\n")
}

// GateOpts configures a gate run.
type GateOpts struct {
	Dir      string // working directory for the checker processes
	File     string // file under check, substituted for {file}
	Checks   []CheckConfig
	Continue bool // run all checks even if some fail
}

// RunGate executes the checks in order and returns a structured result.
// Each check result is also returned individually for logging.
func (r *Runner) RunGate(ctx context.Context, opts GateOpts) (*GateResult, []*Result, error) {
	gate := &GateResult{
		File:              opts.File,
		Passed:            true,
		RemainingFailures: make(map[string]GateFailure),
	}

	var allResults []*Result

	for _, cfg := range opts.Checks {
		result, err := r.Run(ctx, opts.Dir, opts.File, cfg)
		if err != nil {
			return nil, allResults, fmt.Errorf("run check %q: %w", cfg.Name, err)
		}
		allResults = append(allResults, result)

		runs := 1
		if result.AutoFixed {
			runs = 2
		}

		gate.Checks = append(gate.Checks, GateCheckResult{
			Check:     cfg.Name,
			Passed:    result.Passed,
			AutoFixed: result.AutoFixed,
			Runs:      runs,
			Summary:   result.Summary,
		})

		if !result.Passed {
			gate.Passed = false
			gate.RemainingFailures[cfg.Name] = GateFailure{
				Summary: result.Summary,
				Output:  truncateTail(result.Output()),
			}

			if !opts.Continue {
				break
			}
		}
	}

	return gate, allResults, nil
}
