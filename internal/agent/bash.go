package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/patchfactory/internal/checks"
)

// DefaultBashTimeout bounds one bash tool command.
const DefaultBashTimeout = 30 * time.Second

// maxToolOutput caps each stream returned to the model.
const maxToolOutput = 16 * 1024

// BashTool runs shell commands in the repository checkout.
type BashTool struct {
	Dir     string
	Runner  checks.CommandRunner
	Timeout time.Duration
}

// NewBashTool creates a bash tool rooted at dir.
func NewBashTool(dir string, runner checks.CommandRunner, timeout time.Duration) *BashTool {
	if runner == nil {
		runner = &checks.ExecRunner{}
	}
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	return &BashTool{Dir: dir, Runner: runner, Timeout: timeout}
}

func (b *BashTool) Name() string { return ToolBash }

func (b *BashTool) Description() string {
	return "Run a shell command in the repository root. " +
		"Use it to inspect files (e.g. 'sed -n 10,25p path/file.py'), run tests, " +
		"or lint with 'ruff check file.py'. Long outputs are truncated. " +
		fmt.Sprintf("Commands are killed after %s.", b.Timeout)
}

func (b *BashTool) Parameters() map[string]any {
	return Schema(map[string]Param{
		"command": {Type: ParamString, Description: "The shell command to run.", Required: true},
	})
}

func (b *BashTool) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", errors.New("command is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()
	stdout, stderr, exitCode, err := b.Runner.Run(runCtx, b.Dir, []string{"sh", "-c", args.Command})

	var errText string
	switch {
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		errText = fmt.Sprintf("Command timed out after %s", b.Timeout)
	case err != nil:
		errText = err.Error()
	case exitCode != 0:
		errText = fmt.Sprintf("exit status %d", exitCode)
	}
	return fmt.Sprintf("STDOUT:\n%s\nSTDERR:\n%s\nERROR:\n%s", truncate(stdout), truncate(stderr), errText), nil
}

func truncate(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	return s[:maxToolOutput] + fmt.Sprintf("\n... [truncated %d bytes]", len(s)-maxToolOutput)
}
