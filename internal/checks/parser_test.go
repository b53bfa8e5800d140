package checks

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRuffParser_Clean(t *testing.T) {
	p := &RuffParser{}
	result := p.Parse("All checks passed!\n", "", 0)
	if !result.Passed {
		t.Error("expected passed=true")
	}
	if result.Summary != "no violations" {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestRuffParser_FixedEverything(t *testing.T) {
	p := &RuffParser{}
	result := p.Parse("Found 2 errors (2 fixed, 0 remaining).\n", "", 0)
	if !result.Passed {
		t.Error("expected passed=true")
	}
	if result.Summary != "violations fixed" {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestRuffParser_Violations(t *testing.T) {
	stdout := `pkg/mod.py:12:5: F821 Undefined name ` + "`x`" + `
pkg/mod.py:1:8: F401 [*] ` + "`os`" + ` imported but unused
Found 2 errors.
[*] 1 fixable with the ` + "`--fix`" + ` option.
`
	p := &RuffParser{}
	result := p.Parse(stdout, "", 1)
	if result.Passed {
		t.Error("expected passed=false")
	}
	if result.Summary != "2 violation(s)" {
		t.Errorf("Summary = %q", result.Summary)
	}
	r, ok := result.Findings.(ruffResult)
	if !ok {
		t.Fatalf("Findings type = %T", result.Findings)
	}
	if r.Violations != 2 {
		t.Fatalf("Violations = %d, want 2", r.Violations)
	}
	first := r.Findings[0]
	if first.File != "pkg/mod.py" || first.Line != 12 || first.Column != 5 || first.Code != "F821" {
		t.Errorf("first finding = %+v", first)
	}
	if !strings.HasPrefix(r.Findings[1].Message, "`os`") {
		t.Errorf("fixable marker not stripped: %q", r.Findings[1].Message)
	}
}

func TestRuffParser_ToolFailure(t *testing.T) {
	p := &RuffParser{}
	result := p.Parse("", "ruff failed\n  Cause: unknown option\n", 2)
	if result.Passed {
		t.Error("expected passed=false")
	}
	if result.Summary != "exit code 2: ruff failed" {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestGenericParser_Pass(t *testing.T) {
	p := &GenericParser{}
	result := p.Parse("ok", "", 0)
	if !result.Passed {
		t.Error("expected passed=true")
	}
	if result.Findings != "" {
		t.Errorf("expected no findings, got %v", result.Findings)
	}
}

func TestGenericParser_FailTruncatesHead(t *testing.T) {
	p := &GenericParser{}
	long := strings.Repeat("x", maxOutputLen) + "TAIL"
	result := p.Parse(long, "", 1)
	if result.Passed {
		t.Error("expected passed=false")
	}
	findings := result.Findings.(string)
	if !strings.HasSuffix(findings, "TAIL") || !strings.HasPrefix(findings, "…(truncated)") {
		t.Errorf("findings not tail-truncated: %q...", findings[:20])
	}
}

func TestParseResult_JSONSerializable(t *testing.T) {
	p := &RuffParser{}
	result := p.Parse("a.py:1:1: E501 Line too long (100 > 88)\n", "", 1)
	if _, err := json.Marshal(result); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}

func TestResolveParser(t *testing.T) {
	tests := map[string]string{
		"ruff":    "ruff",
		"generic": "generic",
		"":        "generic",
		"pylint":  "generic",
	}
	for in, want := range tests {
		if got := ResolveParser(in); got != want {
			t.Errorf("ResolveParser(%q) = %q, want %q", in, got, want)
		}
	}
}
