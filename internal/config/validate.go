package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for checks.
var recognizedParsers = map[string]bool{
	"ruff":    true,
	"generic": true,
}

var recognizedVendors = map[string]bool{
	"openai": true,
	"ollama": true,
	"vllm":   true,
}

var recognizedLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks an AgentConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *AgentConfig) []ValidationError {
	var errs []ValidationError
	a := cfg.Agent
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	m := a.Model
	if m.Name == "" {
		add("agent.model.name", "is required")
	}
	if !recognizedVendors[m.Vendor] {
		add("agent.model.vendor", "unrecognized vendor %q", m.Vendor)
	}
	if m.GenerationTokens < 1 || m.GenerationTokens > 10000 {
		add("agent.model.generation_tokens", "must be between 1 and 10000, got %d", m.GenerationTokens)
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		add("agent.model.temperature", "must be between 0 and 2, got %g", m.Temperature)
	}
	if m.TopP != nil && (*m.TopP < 0 || *m.TopP > 1) {
		add("agent.model.top_p", "must be between 0 and 1, got %g", *m.TopP)
	}
	if m.RequestsPerSecond < 0 {
		add("agent.model.requests_per_second", "must not be negative")
	}

	if a.MaxSteps < 1 {
		add("agent.max_steps", "must be positive")
	}
	if a.Samples < 1 {
		add("agent.samples", "must be at least 1")
	}
	l := a.Lifecycle
	if l.MaxValidationAttempts < 1 {
		add("agent.lifecycle.max_validation_attempts", "must be at least 1")
	}
	if l.MaxEvaluationAttempts < 1 {
		add("agent.lifecycle.max_evaluation_attempts", "must be at least 1")
	}
	if l.StepLimit < 3 {
		add("agent.lifecycle.step_limit", "must be at least 3 to reach evaluation")
	}

	for _, name := range a.ValidationChecks {
		if _, ok := a.Checks[name]; !ok {
			add("agent.validation_checks", "references undefined check %q", name)
		}
	}
	for name, check := range a.Checks {
		prefix := "agent.checks." + name
		if len(check.Command) == 0 {
			add(prefix+".command", "is required")
		} else if !containsFile(check.Command) {
			add(prefix+".command", "must reference {file}")
		}
		if check.Parser != "" && !recognizedParsers[check.Parser] {
			add(prefix+".parser", "unrecognized parser %q", check.Parser)
		}
		if check.Timeout != "" {
			if _, err := time.ParseDuration(check.Timeout); err != nil {
				add(prefix+".timeout", "invalid duration %q", check.Timeout)
			}
		}
		if check.AutoFix && len(check.FixCommand) == 0 {
			add(prefix+".fix_command", "is required when auto_fix is set")
		}
	}

	if _, err := time.ParseDuration(a.Tools.BashTimeout); err != nil {
		add("agent.tools.bash_timeout", "invalid duration %q", a.Tools.BashTimeout)
	}
	for _, name := range a.Tools.Disabled {
		if !knownTools[name] {
			add("agent.tools.disabled", "unknown tool %q", name)
		}
	}

	if len(a.Harness.Command) == 0 {
		add("agent.harness.command", "is required")
	}
	if a.Harness.MaxWorkers < 1 {
		add("agent.harness.max_workers", "must be at least 1")
	}

	if a.Ledger.DatabaseURL != "" && !strings.HasPrefix(a.Ledger.DatabaseURL, "postgres") {
		add("agent.ledger.database_url", "must be a postgres:// or postgresql:// URL")
	}
	if !recognizedLevels[strings.ToLower(a.Log.Level)] {
		add("agent.log.level", "unrecognized level %q", a.Log.Level)
	}
	return errs
}

var knownTools = map[string]bool{
	"bash":               true,
	"str_replace_editor": true,
	"sequential_thinker": true,
	"patch_validator":    true,
}

func containsFile(argv []string) bool {
	for _, a := range argv {
		if strings.Contains(a, "{file}") {
			return true
		}
	}
	return false
}
