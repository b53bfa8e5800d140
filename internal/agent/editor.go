package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// editorDepth is how many directory levels a directory view lists.
const editorDepth = 2

// EditorTool views and edits files inside the repository checkout. Every
// path must resolve inside Root. One level of undo is kept per file.
type EditorTool struct {
	Root string

	mu      sync.Mutex
	history map[string]*string // nil entry: the file did not exist
}

// NewEditorTool creates an editor confined to root.
func NewEditorTool(root string) *EditorTool {
	return &EditorTool{Root: root, history: make(map[string]*string)}
}

func (e *EditorTool) Name() string { return ToolEditor }

func (e *EditorTool) Description() string {
	return `Edit files in the repository.
* view: show a file with line numbers (optionally a [start, end] view_range, end -1 for EOF) or list a directory two levels deep.
* create: create a new file with file_text.
* str_replace: replace old_str, which must occur exactly once, with new_str.
* insert: insert new_str after line insert_line (0 inserts at the top).
* undo_edit: revert the last edit to path.`
}

func (e *EditorTool) Parameters() map[string]any {
	return Schema(map[string]Param{
		"command":     {Type: ParamString, Description: "Command to run.", Required: true, Enum: []string{"view", "create", "str_replace", "insert", "undo_edit"}},
		"path":        {Type: ParamString, Description: "Path relative to the repository root (absolute paths must be inside it).", Required: true},
		"file_text":   {Type: ParamString, Description: "Content for create."},
		"old_str":     {Type: ParamString, Description: "Text to replace for str_replace."},
		"new_str":     {Type: ParamString, Description: "Replacement text for str_replace, or text to insert."},
		"insert_line": {Type: ParamInt, Description: "Line after which insert adds new_str."},
		"view_range":  {Type: ParamArray, Description: "Optional [start, end] line range for view.", Items: &Param{Type: ParamInt}},
	})
}

type editorArgs struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine *int   `json:"insert_line"`
	ViewRange  []int  `json:"view_range"`
}

func (e *EditorTool) Invoke(_ context.Context, raw json.RawMessage) (string, error) {
	var args editorArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	path, err := e.resolve(args.Path)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch args.Command {
	case "view":
		return e.view(path, args.ViewRange)
	case "create":
		return e.create(path, args.FileText)
	case "str_replace":
		return e.replace(path, args.OldStr, args.NewStr)
	case "insert":
		if args.InsertLine == nil {
			return "", errors.New("insert_line is required for insert")
		}
		return e.insert(path, *args.InsertLine, args.NewStr)
	case "undo_edit":
		return e.undo(path)
	default:
		return "", fmt.Errorf("unknown command %q", args.Command)
	}
}

// resolve maps p to an absolute path inside Root.
func (e *EditorTool) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path is required")
	}
	root, err := filepath.Abs(e.Root)
	if err != nil {
		return "", err
	}
	abs := p
	if !filepath.IsAbs(p) {
		abs = filepath.Join(root, p)
	}
	abs = filepath.Clean(abs)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("access outside repository is not allowed: %s", p)
	}
	return abs, nil
}

func (e *EditorTool) rel(abs string) string {
	root, _ := filepath.Abs(e.Root)
	if r, err := filepath.Rel(root, abs); err == nil {
		return r
	}
	return abs
}

func (e *EditorTool) view(path string, viewRange []int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%s does not exist", e.rel(path))
	}
	if info.IsDir() {
		return listDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	start, end := 1, len(lines)
	if len(viewRange) > 0 {
		if len(viewRange) != 2 {
			return "", errors.New("view_range must be [start, end]")
		}
		start = max(1, viewRange[0])
		if viewRange[1] != -1 {
			end = min(viewRange[1], len(lines))
		}
		if start > len(lines) || (viewRange[1] != -1 && viewRange[1] < start) {
			return "", fmt.Errorf("invalid view_range %v for a file of %d lines", viewRange, len(lines))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Showing lines %d to %d of %d]\n", start, end, len(lines))
	for i := start; i <= end; i++ {
		line := lines[i-1]
		fmt.Fprintf(&b, "%4d %s", i, line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func listDir(root string) (string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if depth > editorDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := rel
		if d.IsDir() {
			name += "/"
		}
		out = append(out, name)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(out)
	return strings.Join(out, "\n"), nil
}

func (e *EditorTool) create(path, text string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", e.rel(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	e.history[path] = nil
	return fmt.Sprintf("File created: %s", e.rel(path)), nil
}

func (e *EditorTool) replace(path, oldStr, newStr string) (string, error) {
	content, err := e.read(path)
	if err != nil {
		return "", err
	}
	if oldStr == "" {
		return "", errors.New("old_str is required for str_replace")
	}
	switch n := strings.Count(content, oldStr); n {
	case 0:
		return "", fmt.Errorf("old_str not found in %s", e.rel(path))
	case 1:
	default:
		return "", fmt.Errorf("old_str appears %d times, must be unique", n)
	}
	if err := e.write(path, content, strings.Replace(content, oldStr, newStr, 1)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully replaced content in %s", e.rel(path)), nil
}

func (e *EditorTool) insert(path string, line int, text string) (string, error) {
	content, err := e.read(path)
	if err != nil {
		return "", err
	}
	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if line < 0 || line > len(lines) {
		return "", fmt.Errorf("insert_line %d out of range [0, %d]", line, len(lines))
	}
	if line > 0 && !strings.HasSuffix(lines[line-1], "\n") {
		lines[line-1] += "\n"
	}
	ins := strings.TrimRight(text, "\n") + "\n"
	updated := strings.Join(lines[:line], "") + ins + strings.Join(lines[line:], "")
	if err := e.write(path, content, updated); err != nil {
		return "", err
	}
	return fmt.Sprintf("Inserted text at line %d in %s", line, e.rel(path)), nil
}

func (e *EditorTool) undo(path string) (string, error) {
	prev, ok := e.history[path]
	if !ok {
		return "", fmt.Errorf("no edit to undo for %s", e.rel(path))
	}
	delete(e.history, path)
	if prev == nil {
		if err := os.Remove(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed created file %s", e.rel(path)), nil
	}
	if err := os.WriteFile(path, []byte(*prev), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reverted last edit to %s", e.rel(path)), nil
}

func (e *EditorTool) read(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("file does not exist: %s", e.rel(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *EditorTool) write(path, before, after string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(after), info.Mode().Perm()); err != nil {
		return err
	}
	e.history[path] = &before
	return nil
}
