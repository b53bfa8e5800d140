package config

// AgentConfig is the top-level configuration structure parsed from YAML.
type AgentConfig struct {
	Agent Agent `yaml:"agent"`
}

// Agent holds everything needed to run the patch lifecycle for a problem.
type Agent struct {
	Name             string           `yaml:"name"`
	Model            Model            `yaml:"model"`
	MaxSteps         int              `yaml:"max_steps"`
	Samples          int              `yaml:"samples"`
	LoadCache        bool             `yaml:"load_cache"`
	SaveCache        *bool            `yaml:"save_cache"`
	PromptTemplate   string           `yaml:"prompt_template"`
	TemplateDir      string           `yaml:"template_dir"`
	Lifecycle        Lifecycle        `yaml:"lifecycle"`
	ValidationChecks []string         `yaml:"validation_checks"`
	Checks           map[string]Check `yaml:"checks"`
	Tools            Tools            `yaml:"tools"`
	Harness          Harness          `yaml:"harness"`
	Paths            Paths            `yaml:"paths"`
	Ledger           Ledger           `yaml:"ledger"`
	Log              Log              `yaml:"log"`
}

// Model configures the LLM completion provider.
type Model struct {
	Name              string   `yaml:"name"`
	Vendor            string   `yaml:"vendor"`
	BaseURL           string   `yaml:"base_url"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	GenerationTokens  int      `yaml:"generation_tokens"`
	Temperature       float64  `yaml:"temperature"`
	TopP              *float64 `yaml:"top_p"`
	Stop              []string `yaml:"stop"`
	Seed              *int     `yaml:"seed"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	PromptPrice       float64  `yaml:"prompt_price_per_mtok"`
	CompletionPrice   float64  `yaml:"completion_price_per_mtok"`
}

// Lifecycle bounds the generate/validate/evaluate retry loop.
type Lifecycle struct {
	MaxValidationAttempts int  `yaml:"max_validation_attempts"`
	MaxEvaluationAttempts int  `yaml:"max_evaluation_attempts"`
	RetryOnUnresolved     bool `yaml:"retry_on_unresolved"`
	StepLimit             int  `yaml:"step_limit"`
}

// Check defines an external checker run against each patched file. The
// command is an argv list; "{file}" is replaced with the file under check.
type Check struct {
	Command    []string `yaml:"command"`
	Parser     string   `yaml:"parser"`
	Timeout    string   `yaml:"timeout"`
	FixCommand []string `yaml:"fix_command"`
	AutoFix    bool     `yaml:"auto_fix"`
}

// Tools configures the agent's tool set.
type Tools struct {
	Disabled        []string `yaml:"disabled"`
	BashTimeout     string   `yaml:"bash_timeout"`
	ThinkingMaxStep int      `yaml:"thinking_max_steps"`
}

// Harness configures the external evaluation harness subprocess.
type Harness struct {
	Command    []string `yaml:"command"`
	Dir        string   `yaml:"dir"`
	Dataset    string   `yaml:"dataset"`
	Split      string   `yaml:"split"`
	MaxWorkers int      `yaml:"max_workers"`
	Namespace  string   `yaml:"namespace"`
}

// Paths locates on-disk working state.
type Paths struct {
	Output       string `yaml:"output"`
	Repos        string `yaml:"repos"`
	CloneBaseURL string `yaml:"clone_base_url"`
}

// Ledger configures the optional Postgres run ledger.
type Ledger struct {
	DatabaseURL string `yaml:"database_url"`
}

// Log configures structured logging.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// ShouldSaveCache reports whether generated patches are written to disk.
// It defaults to true.
func (a Agent) ShouldSaveCache() bool {
	return a.SaveCache == nil || *a.SaveCache
}
