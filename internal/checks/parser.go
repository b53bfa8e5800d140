package checks

// ParseResult is a parser's verdict on one checker invocation.
type ParseResult struct {
	Passed   bool   `json:"passed"`
	Summary  string `json:"summary"`
	Findings any    `json:"findings"`
}

// Parser turns a checker's raw output into a ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}

// FallbackParser handles checks whose parser is unset or unknown.
const FallbackParser = "generic"

func builtinParsers() map[string]Parser {
	return map[string]Parser{
		"ruff":         &RuffParser{},
		FallbackParser: &GenericParser{},
	}
}

// ResolveParser returns the name of the parser a check configured with name
// will actually use.
func ResolveParser(name string) string {
	if _, ok := builtinParsers()[name]; ok {
		return name
	}
	return FallbackParser
}
