// Package trajectory records the agent's steps as an append-only JSONL log.
package trajectory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Step types written by the agent and the lifecycle nodes.
const (
	TypePrompt     = "prompt"
	TypeResponse   = "response"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeNode       = "node"
	TypeThought    = "llm_thought"
	TypeError      = "error"
)

// Sink receives trajectory steps.
type Sink interface {
	Log(stepType, tool string, content any, meta map[string]any)
}

// Logger writes one JSON object per step. It is safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	w     io.Writer
	c     io.Closer
	step  int
	now   func() time.Time
	err   error
	steps []map[string]any
	keep  bool
}

// Open appends to the JSONL file at path, creating it if needed.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trajectory dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trajectory: %w", err)
	}
	l := New(f)
	l.c = f
	return l, nil
}

// New writes steps to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Memory returns a Logger that only keeps steps in memory.
func Memory() *Logger {
	return &Logger{w: io.Discard, now: time.Now, keep: true}
}

// Log appends a step. metadata keys never overwrite the fixed fields.
func (l *Logger) Log(stepType, tool string, content any, meta map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.step++
	entry := make(map[string]any, len(meta)+5)
	for k, v := range meta {
		entry[k] = v
	}
	entry["step"] = l.step
	entry["type"] = stepType
	entry["content"] = content
	entry["timestamp"] = l.now().UTC().Format(time.RFC3339Nano)
	if tool != "" {
		entry["tool"] = tool
	}
	if l.keep {
		l.steps = append(l.steps, entry)
	}

	if l.err != nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]any{
			"step": l.step, "type": TypeError, "content": fmt.Sprintf("unencodable step: %v", err),
			"timestamp": entry["timestamp"],
		})
	}
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		l.err = err
	}
}

// Steps returns the number of steps logged so far.
func (l *Logger) Steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

// Entries returns the in-memory steps of a Memory logger.
func (l *Logger) Entries() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]map[string]any, len(l.steps))
	copy(out, l.steps)
	return out
}

// Err returns the first write error, if any.
func (l *Logger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the underlying file and reports any earlier write error.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c != nil {
		if err := l.c.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.c = nil
	}
	return l.err
}

// Discard is a Sink that drops every step.
type Discard struct{}

func (Discard) Log(string, string, any, map[string]any) {}
