// Package prompt renders the agent prompts from {{var}} templates.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value; a variable with no entry in vars is
// an error. {{#if variable}}...{{/if}} blocks are kept only when the variable
// is non-empty. Values are inserted literally and never re-expanded.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		varName := m[1]
		if val, ok := vars[varName]; ok {
			return val
		}
		missing = append(missing, varName)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return expanded, nil
}

// processConditionals handles {{#if var}}...{{/if}} blocks, supporting nesting.
// It processes innermost blocks first by finding the last {{#if before each {{/if}}.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		// The last {{#if}} before the first {{/if}} is the innermost block.
		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		lastOpen := openLocs[len(openLocs)-1]
		openStart := lastOpen[0]
		openEnd := lastOpen[1]

		openTag := prefix[openStart:openEnd]
		m := ifOpenRe.FindStringSubmatch(openTag)
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", openTag)
		}
		varName := m[1]

		body := result[openEnd:closeIdx]
		closeEnd := closeIdx + len(ifCloseStr)

		var replacement string
		if val, ok := vars[varName]; ok && val != "" {
			replacement = body
		}

		result = result[:openStart] + replacement + result[closeEnd:]
	}

	if ifOpenRe.MatchString(result) {
		loc := ifOpenRe.FindString(result)
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}

	return result, nil
}

// LoadTemplate returns the named template. When dir is set and holds a file
// of that name it wins; otherwise the built-in template is used. The name must
// stay inside dir.
func LoadTemplate(name, dir string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("template name %q must be relative", name)
	}
	if dir != "" {
		path := filepath.Join(dir, name)
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve template %q: %w", name, err)
		}
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("resolve template dir: %w", err)
		}
		if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
			return "", fmt.Errorf("template path %q escapes %s", name, dir)
		}
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %q: %w", path, err)
		}
	}

	if tmpl, ok := builtinTemplates[name]; ok {
		return tmpl, nil
	}
	return "", fmt.Errorf("template %q not found (dir %q)", name, dir)
}

// BuiltinNames lists the built-in template names.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PatchInput carries what the patch prompt is rendered from.
type PatchInput struct {
	ProblemStatement string
	RepoPath         string
	Hints            string
	GenerationError  string
	ValidationError  string
	EvaluationError  string
	Attempt          int
}

// Vars converts the input to template variables.
func (in PatchInput) Vars() Vars {
	return Vars{
		"problem_statement":  in.ProblemStatement,
		"repo_path":          in.RepoPath,
		"hints_text":         in.Hints,
		"generation_err_msg": in.GenerationError,
		"validation_err_msg": in.ValidationError,
		"evaluation_err_msg": in.EvaluationError,
		"attempt":            strconv.Itoa(in.Attempt),
	}
}

// RenderPatch loads and renders the patch prompt.
func RenderPatch(name, dir string, in PatchInput) (string, error) {
	tmpl, err := LoadTemplate(name, dir)
	if err != nil {
		return "", err
	}
	return Render(tmpl, in.Vars())
}
