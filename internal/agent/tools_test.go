package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
	"github.com/lucasnoah/patchfactory/internal/validator"
)

type fakeRunner struct {
	argv   []string
	dir    string
	stdout string
	stderr string
	code   int
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, dir string, argv []string) (string, string, int, error) {
	f.argv, f.dir = argv, dir
	if f.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	return f.stdout, f.stderr, f.code, nil
}

func args(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestBashToolFormatsOutput(t *testing.T) {
	r := &fakeRunner{stdout: "a.py\n", stderr: "warn", code: 2}
	b := NewBashTool("/repo", r, time.Second)

	out, err := b.Invoke(context.Background(), args(t, map[string]string{"command": "ls | head"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"sh", "-c", "ls | head"}, r.argv)
	assert.Equal(t, "/repo", r.dir)
	assert.Equal(t, "STDOUT:\na.py\n\nSTDERR:\nwarn\nERROR:\nexit status 2", out)
}

func TestBashToolTimeout(t *testing.T) {
	b := NewBashTool("/repo", &fakeRunner{block: true}, 20*time.Millisecond)
	out, err := b.Invoke(context.Background(), args(t, map[string]string{"command": "sleep 100"}))
	require.NoError(t, err)
	assert.Contains(t, out, "Command timed out after 20ms")
}

func TestBashToolRequiresCommand(t *testing.T) {
	b := NewBashTool("/repo", &fakeRunner{}, 0)
	assert.Equal(t, DefaultBashTimeout, b.Timeout)
	_, err := b.Invoke(context.Background(), args(t, map[string]string{"command": " "}))
	assert.Error(t, err)
}

func TestBashToolRealShell(t *testing.T) {
	dir := t.TempDir()
	b := NewBashTool(dir, nil, 5*time.Second)
	out, err := b.Invoke(context.Background(), args(t, map[string]string{"command": "echo hi && pwd"}))
	require.NoError(t, err)
	assert.Contains(t, out, "STDOUT:\nhi\n")
	assert.True(t, strings.HasSuffix(out, "ERROR:\n"), out)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxToolOutput+10)
	got := truncate(long)
	assert.Contains(t, got, "[truncated 10 bytes]")
	assert.Equal(t, "short", truncate("short"))
}

func newEditor(t *testing.T) (*EditorTool, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "mod.py"), []byte("a\nb\nc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "sub", "deep", "x.py"), []byte(""), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	return NewEditorTool(root), root
}

func edit(t *testing.T, e *EditorTool, v map[string]any) (string, error) {
	t.Helper()
	return e.Invoke(context.Background(), args(t, v))
}

func TestEditorViewFile(t *testing.T) {
	e, _ := newEditor(t)
	out, err := edit(t, e, map[string]any{"command": "view", "path": "pkg/mod.py"})
	require.NoError(t, err)
	assert.Equal(t, "[Showing lines 1 to 3 of 3]\n   1 a\n   2 b\n   3 c\n", out)

	out, err = edit(t, e, map[string]any{"command": "view", "path": "pkg/mod.py", "view_range": []int{2, -1}})
	require.NoError(t, err)
	assert.Equal(t, "[Showing lines 2 to 3 of 3]\n   2 b\n   3 c\n", out)

	_, err = edit(t, e, map[string]any{"command": "view", "path": "pkg/mod.py", "view_range": []int{5, 6}})
	assert.Error(t, err)
}

func TestEditorViewDir(t *testing.T) {
	e, _ := newEditor(t)
	out, err := edit(t, e, map[string]any{"command": "view", "path": "."})
	require.NoError(t, err)
	assert.Equal(t, "pkg/\npkg/mod.py\npkg/sub/", out)
}

func TestEditorConfinedToRoot(t *testing.T) {
	e, root := newEditor(t)
	for _, p := range []string{"../outside.py", "/etc/passwd", filepath.Join(root, "..", "x")} {
		_, err := edit(t, e, map[string]any{"command": "view", "path": p})
		assert.ErrorContains(t, err, "outside repository", p)
	}
	_, err := edit(t, e, map[string]any{"command": "view", "path": filepath.Join(root, "pkg", "mod.py")})
	assert.NoError(t, err, "absolute paths inside the root are allowed")
}

func TestEditorStrReplace(t *testing.T) {
	e, root := newEditor(t)
	path := filepath.Join(root, "pkg", "mod.py")

	_, err := edit(t, e, map[string]any{"command": "str_replace", "path": "pkg/mod.py", "old_str": "zzz", "new_str": "y"})
	assert.ErrorContains(t, err, "old_str not found in pkg/mod.py")

	require.NoError(t, os.WriteFile(path, []byte("x\nx\n"), 0o644))
	_, err = edit(t, e, map[string]any{"command": "str_replace", "path": "pkg/mod.py", "old_str": "x", "new_str": "y"})
	assert.ErrorContains(t, err, "old_str appears 2 times, must be unique")

	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))
	_, err = edit(t, e, map[string]any{"command": "str_replace", "path": "pkg/mod.py", "old_str": "b\n", "new_str": "B\n"})
	require.NoError(t, err)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "a\nB\nc\n", string(data))

	out, err := edit(t, e, map[string]any{"command": "undo_edit", "path": "pkg/mod.py"})
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted")
	data, _ = os.ReadFile(path)
	assert.Equal(t, "a\nb\nc\n", string(data))

	_, err = edit(t, e, map[string]any{"command": "undo_edit", "path": "pkg/mod.py"})
	assert.ErrorContains(t, err, "no edit to undo")
}

func TestEditorInsert(t *testing.T) {
	e, root := newEditor(t)
	path := filepath.Join(root, "pkg", "mod.py")

	_, err := edit(t, e, map[string]any{"command": "insert", "path": "pkg/mod.py", "insert_line": 1, "new_str": "x"})
	require.NoError(t, err)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "a\nx\nb\nc\n", string(data))

	_, err = edit(t, e, map[string]any{"command": "insert", "path": "pkg/mod.py", "insert_line": 0, "new_str": "top\n"})
	require.NoError(t, err)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "top\na\nx\nb\nc\n", string(data))

	_, err = edit(t, e, map[string]any{"command": "insert", "path": "pkg/mod.py", "insert_line": 99, "new_str": "x"})
	assert.ErrorContains(t, err, "out of range")
	_, err = edit(t, e, map[string]any{"command": "insert", "path": "pkg/mod.py", "new_str": "x"})
	assert.ErrorContains(t, err, "insert_line is required")
}

func TestEditorCreateAndUndo(t *testing.T) {
	e, root := newEditor(t)
	out, err := edit(t, e, map[string]any{"command": "create", "path": "pkg/new/file.py", "file_text": "x = 1\n"})
	require.NoError(t, err)
	assert.Equal(t, "File created: pkg/new/file.py", out)

	_, err = edit(t, e, map[string]any{"command": "create", "path": "pkg/new/file.py", "file_text": "y"})
	assert.ErrorContains(t, err, "already exists")

	_, err = edit(t, e, map[string]any{"command": "undo_edit", "path": "pkg/new/file.py"})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "pkg", "new", "file.py"))
	assert.True(t, os.IsNotExist(err))
}

func TestEditorUnknownCommand(t *testing.T) {
	e, _ := newEditor(t)
	_, err := edit(t, e, map[string]any{"command": "delete", "path": "pkg/mod.py"})
	assert.ErrorContains(t, err, "unknown command")
}

func TestThinkerStopsAtFinalAnswer(t *testing.T) {
	p := &scripted{responses: []*llm.Response{
		reply("Look at sessions.py"),
		reply("FINAL ANSWER: decode bytes before str()"),
		reply("never reached"),
	}}
	sink := trajectory.Memory()
	th, err := NewThinkerTool(p, 5, sink)
	require.NoError(t, err)
	var spent llm.Usage
	th.OnUsage = func(u llm.Usage) { spent.Add(u) }

	out, err := th.Invoke(context.Background(), args(t, map[string]string{"goal": "why?", "problem_statement": "bytes method"}))
	require.NoError(t, err)
	assert.Equal(t, "Step 1: Look at sessions.py\nStep 2: FINAL ANSWER: decode bytes before str()", out)
	assert.Len(t, p.requests, 2)
	assert.Contains(t, p.requests[1].Messages[0].Content, "Step 1: Look at sessions.py")
	assert.Equal(t, 220, spent.Total())
	assert.Len(t, sink.Entries(), 2)
}

func TestThinkerMaxSteps(t *testing.T) {
	p := &scripted{}
	th, err := NewThinkerTool(p, 2, nil)
	require.NoError(t, err)

	out, err := th.Invoke(context.Background(), args(t, map[string]string{"goal": "g"}))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "[WARNING] Reached max steps without FINAL ANSWER."))
	assert.Len(t, p.requests, 2)
}

type fakeValidator struct {
	got string
	out validator.Outcome
}

func (f *fakeValidator) Validate(_ context.Context, diff string) validator.Outcome {
	f.got = diff
	return f.out
}

func TestValidatorToolJSON(t *testing.T) {
	fv := &fakeValidator{out: validator.Outcome{Status: validator.StatusError, Message: "file not found: x.py"}}
	tool := &ValidatorTool{Validator: fv}

	out, err := tool.Invoke(context.Background(), args(t, map[string]string{"input": samplePatch}))
	require.NoError(t, err)
	assert.Equal(t, samplePatch, fv.got)
	assert.JSONEq(t, `{"status":"ERROR","error_message":"file not found: x.py"}`, out)

	fv.out = validator.Outcome{Status: validator.StatusPassed, CleanedPatch: samplePatch}
	out, err = tool.Invoke(context.Background(), args(t, map[string]string{"input": samplePatch}))
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "PASSED", decoded["status"])
	assert.Equal(t, samplePatch, decoded["cleaned_patch"])

	_, err = tool.Invoke(context.Background(), args(t, map[string]string{}))
	assert.Error(t, err)
}
