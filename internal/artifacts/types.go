package artifacts

// Prediction is one entry of the harness predictions file.
type Prediction struct {
	InstanceID      string `json:"instance_id"`
	ModelPatch      string `json:"model_patch"`
	ModelNameOrPath string `json:"model_name_or_path"`
}

// RunSummary is the persisted outcome of one lifecycle run for an instance.
type RunSummary struct {
	InstanceID         string  `json:"instance_id"`
	RunID              string  `json:"run_id"`
	Model              string  `json:"model"`
	Status             string  `json:"status"` // "resolved", "unresolved", "unknown", "error", "failed"
	FinalNode          string  `json:"final_node"`
	EvaluationStatus   string  `json:"evaluation_status,omitempty"`
	EvaluationRunID    string  `json:"evaluation_run_id,omitempty"`
	GenerationAttempts int     `json:"generation_attempts"`
	ValidationAttempts int     `json:"validation_attempts"`
	EvaluationAttempts int     `json:"evaluation_attempts"`
	ValidationError    string  `json:"validation_error,omitempty"`
	EvaluationError    string  `json:"evaluation_error,omitempty"`
	FileScore          float64 `json:"localization_score_file"`
	LineScore          float64 `json:"localization_score_line"`
	FilesChanged       int     `json:"files_changed"`
	LinesAdded         int     `json:"lines_added"`
	LinesRemoved       int     `json:"lines_removed"`
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	CostUSD            float64 `json:"cost_usd"`
	Samples            int     `json:"samples,omitempty"`         // candidates of a sampled run
	SelectedSample     int     `json:"selected_sample,omitempty"` // chosen candidate when Samples > 0
	Error              string  `json:"error,omitempty"`
	StartedAt          string  `json:"started_at"`
	FinishedAt         string  `json:"finished_at"`
	Duration           string  `json:"duration"`
}
