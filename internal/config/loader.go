package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left unset.
const (
	DefaultModel                 = "gpt-4o"
	DefaultVendor                = "openai"
	DefaultGenerationTokens      = 5000
	DefaultMaxSteps              = 30
	DefaultMaxValidationAttempts = 3
	DefaultMaxEvaluationAttempts = 1
	DefaultStepLimit             = 25
	DefaultCheckTimeout          = "2m"
	DefaultBashTimeout           = "30s"
	DefaultThinkingSteps         = 5
	DefaultDataset               = "princeton-nlp/SWE-bench_Verified"
	DefaultSplit                 = "test"
	DefaultCloneBaseURL          = "https://github.com"
)

// Load reads and parses an agent configuration from the given YAML file path.
// After parsing, it fills in defaults for anything left unset.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./patchfactory.yaml, ~/.patchfactory/config.yaml.
// When none exists the built-in defaults are returned.
func LoadDefault() (*AgentConfig, error) {
	candidates := []string{"patchfactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".patchfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Default returns the built-in configuration.
func Default() *AgentConfig {
	cfg := &AgentConfig{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills unset fields and resolves the validation check list.
func applyDefaults(cfg *AgentConfig) {
	a := &cfg.Agent

	if a.Name == "" {
		a.Name = "patchfactory"
	}
	if a.Model.Name == "" {
		a.Model.Name = DefaultModel
	}
	if a.Model.Vendor == "" {
		a.Model.Vendor = DefaultVendor
	}
	if a.Model.APIKeyEnv == "" {
		a.Model.APIKeyEnv = "OPENAI_API_KEY"
	}
	if a.Model.GenerationTokens == 0 {
		a.Model.GenerationTokens = DefaultGenerationTokens
	}
	if a.Model.TopP == nil {
		one := 1.0
		a.Model.TopP = &one
	}
	if a.MaxSteps == 0 {
		a.MaxSteps = DefaultMaxSteps
	}
	if a.Samples == 0 {
		a.Samples = 1
	}
	if a.PromptTemplate == "" {
		a.PromptTemplate = "patch.md"
	}

	l := &a.Lifecycle
	if l.MaxValidationAttempts == 0 {
		l.MaxValidationAttempts = DefaultMaxValidationAttempts
	}
	if l.MaxEvaluationAttempts == 0 {
		l.MaxEvaluationAttempts = DefaultMaxEvaluationAttempts
	}
	if l.StepLimit == 0 {
		l.StepLimit = DefaultStepLimit
	}

	// Without any configured checks the validator lints with ruff.
	if len(a.Checks) == 0 {
		a.Checks = map[string]Check{
			"ruff": {Command: []string{"ruff", "check", "--fix", "{file}"}, Parser: "ruff"},
		}
		if len(a.ValidationChecks) == 0 {
			a.ValidationChecks = []string{"ruff"}
		}
	}
	for name, c := range a.Checks {
		if c.Timeout == "" {
			c.Timeout = DefaultCheckTimeout
		}
		if c.Parser == "" {
			c.Parser = "generic"
		}
		a.Checks[name] = c
	}

	if a.Tools.BashTimeout == "" {
		a.Tools.BashTimeout = DefaultBashTimeout
	}
	if a.Tools.ThinkingMaxStep == 0 {
		a.Tools.ThinkingMaxStep = DefaultThinkingSteps
	}

	h := &a.Harness
	if len(h.Command) == 0 {
		h.Command = []string{"python", "-m", "swebench.harness.run_evaluation"}
	}
	if h.Dataset == "" {
		h.Dataset = DefaultDataset
	}
	if h.Split == "" {
		h.Split = DefaultSplit
	}
	if h.MaxWorkers == 0 {
		h.MaxWorkers = 1
	}

	home, _ := os.UserHomeDir()
	if a.Paths.Output == "" {
		a.Paths.Output = filepath.Join(home, ".patchfactory", "output")
	}
	if a.Paths.Repos == "" {
		a.Paths.Repos = filepath.Join(home, ".patchfactory", "repos")
	}
	if a.Paths.CloneBaseURL == "" {
		a.Paths.CloneBaseURL = DefaultCloneBaseURL
	}
	if h.Dir == "" {
		h.Dir = filepath.Join(home, "SWE-bench")
	}
	a.Paths.Output = expandHome(a.Paths.Output, home)
	a.Paths.Repos = expandHome(a.Paths.Repos, home)
	h.Dir = expandHome(h.Dir, home)

	if a.Log.Level == "" {
		a.Log.Level = "info"
	}
}

func expandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
