package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lucasnoah/patchfactory/internal/validator"
)

// PatchValidator validates candidate patches.
type PatchValidator interface {
	Validate(ctx context.Context, diff string) validator.Outcome
}

// ValidatorTool exposes the patch validator to the model so it can check a
// diff before answering.
type ValidatorTool struct {
	Validator PatchValidator
}

func (v *ValidatorTool) Name() string { return ToolValidator }

func (v *ValidatorTool) Description() string {
	return `Check that a unified diff applies to the repository and passes the linters.
Returns JSON: {"status": "PASSED", "cleaned_patch": "<patch>"} or {"status": "ERROR", "error_message": "<message>"}.`
}

func (v *ValidatorTool) Parameters() map[string]any {
	return Schema(map[string]Param{
		"input": {Type: ParamString, Description: "A unified diff, possibly spanning several files.", Required: true},
	})
}

func (v *ValidatorTool) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Input string `json:"input"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Input == "" {
		return "", errors.New("input is required")
	}
	out, err := json.Marshal(v.Validator.Validate(ctx, args.Input))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
