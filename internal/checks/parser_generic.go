package checks

import "fmt"

// GenericParser is the fallback parser that captures exit code and actual output.
type GenericParser struct{}

// maxOutputLen caps how much stdout/stderr the generic parser retains in findings.
const maxOutputLen = 8000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	passed := exitCode == 0
	summary := fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))
	if passed {
		summary = "passed (exit code 0)"
	}

	findings := ""
	if !passed {
		combined := stdout
		if stderr != "" {
			if combined != "" {
				combined += "\n"
			}
			combined += stderr
		}
		findings = truncateTail(combined)
	}

	return ParseResult{
		Passed:   passed,
		Summary:  summary,
		Findings: findings,
	}
}

// truncateTail keeps the last maxOutputLen bytes, where tracebacks and
// error summaries usually are.
func truncateTail(s string) string {
	if len(s) > maxOutputLen {
		return "…(truncated)\n" + s[len(s)-maxOutputLen:]
	}
	return s
}
