package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RuffParser parses ruff's concise text output.
type RuffParser struct{}

// e.g. "pkg/mod.py:12:5: F821 Undefined name `x`"
var ruffLineRe = regexp.MustCompile(`^(.+?):(\d+):(\d+): ([A-Z]+[0-9]+) (?:\[\*\] )?(.*)$`)

var ruffFixedRe = regexp.MustCompile(`\(\d+ fixed, 0 remaining\)`)

type ruffFinding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ruffResult struct {
	Violations int           `json:"violations"`
	Findings   []ruffFinding `json:"findings"`
}

func (p *RuffParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var result ruffResult
	for _, line := range strings.Split(stdout, "\n") {
		m := ruffLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		result.Findings = append(result.Findings, ruffFinding{
			File:    m[1],
			Line:    ln,
			Column:  col,
			Code:    m[4],
			Message: m[5],
		})
	}
	result.Violations = len(result.Findings)

	if exitCode == 0 {
		summary := "no violations"
		if ruffFixedRe.MatchString(stdout) {
			summary = "violations fixed"
		}
		return ParseResult{Passed: true, Summary: summary, Findings: result}
	}

	if result.Violations == 0 {
		// Not lint output: ruff itself failed (bad config, syntax error, ...).
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = strings.TrimSpace(stdout)
		}
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		return ParseResult{
			Passed:   false,
			Summary:  fmt.Sprintf("exit code %d: %s", exitCode, msg),
			Findings: result,
		}
	}

	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d violation(s)", result.Violations),
		Findings: result,
	}
}
