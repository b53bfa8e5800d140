// Package problem models benchmark problem instances and loads them from
// dataset files.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Problem is one benchmark instance. It is read-only once loaded.
type Problem struct {
	InstanceID             string   `json:"instance_id" validate:"required"`
	ProblemStatement       string   `json:"problem_statement" validate:"required"`
	Repo                   string   `json:"repo" validate:"required,ownerrepo"`
	BaseCommit             string   `json:"base_commit" validate:"required,hexadecimal,min=7"`
	CreatedAt              string   `json:"created_at,omitempty"`
	Version                string   `json:"version,omitempty"`
	HintsText              string   `json:"hints_text,omitempty"`
	EnvironmentSetupCommit string   `json:"environment_setup_commit,omitempty"`
	Patch                  string   `json:"patch,omitempty"`
	TestPatch              string   `json:"test_patch,omitempty"`
	FailToPass             TestList `json:"FAIL_TO_PASS,omitempty"`
	PassToPass             TestList `json:"PASS_TO_PASS,omitempty"`
}

// ReferencePatch returns the gold patch, or nil when the instance has none.
func (p Problem) ReferencePatch() *string {
	if strings.TrimSpace(p.Patch) == "" {
		return nil
	}
	s := p.Patch
	return &s
}

// CheckoutName is a filesystem-safe directory name for the instance.
func (p Problem) CheckoutName() string {
	return strings.ReplaceAll(p.InstanceID, "/", "__")
}

// TestList is a list of test identifiers. Datasets carry it either as a JSON
// array or as a string holding a JSON-encoded array.
type TestList []string

func (l *TestList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("test list must be an array or a JSON string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return fmt.Errorf("test list string is not a JSON array: %w", err)
	}
	*l = list
	return nil
}

var ownerRepoRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ownerrepo", func(fl validator.FieldLevel) bool {
		return ownerRepoRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate reports every missing or malformed field.
func (p Problem) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	id := p.InstanceID
	if id == "" {
		id = "<unnamed>"
	}
	return fmt.Errorf("invalid problem %s: %s", id, strings.Join(msgs, "; "))
}
