// Package patch applies, repairs, splits and regenerates unified diffs.
package patch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMatchingFile is returned when a diff has no entry for the target path.
var ErrNoMatchingFile = errors.New("no matching file in diff")

// HunkMismatchError reports a hunk whose context or removed lines do not
// match the original text.
type HunkMismatchError struct {
	Hunk   int // 1-based hunk index within the file
	Line   int // 1-based line in the original text
	Reason string
}

func (e *HunkMismatchError) Error() string {
	return fmt.Sprintf("hunk %d does not apply at line %d: %s", e.Hunk, e.Line, e.Reason)
}

// Apply applies the hunks diff holds for target to original and returns the
// patched text. An empty original is allowed when the diff creates the file.
// Hunks must match exactly (ignoring line terminators); no fuzz is applied.
func Apply(original, diff, target string) (string, error) {
	fd := findFile(parseFiles(diff), target)
	if fd == nil {
		return "", fmt.Errorf("%w: %s", ErrNoMatchingFile, target)
	}

	orig := splitKeepEnds(original)
	var out lineWriter
	pos := 0
	for n, h := range fd.hunks {
		start := h.oldStart - 1
		if h.oldCount == 0 {
			start = h.oldStart
		}
		if start < 0 {
			start = 0
		}
		if start < pos {
			return "", &HunkMismatchError{Hunk: n + 1, Line: h.oldStart, Reason: "overlaps previous hunk"}
		}
		if start > len(orig) {
			return "", &HunkMismatchError{Hunk: n + 1, Line: h.oldStart,
				Reason: fmt.Sprintf("starts past end of file (%d lines)", len(orig))}
		}
		out.writeAll(orig[pos:start])
		pos = start

		for _, l := range h.lines {
			switch l.kind {
			case lineContext, lineRemoved:
				if pos >= len(orig) {
					return "", &HunkMismatchError{Hunk: n + 1, Line: pos + 1,
						Reason: fmt.Sprintf("expected %q past end of file", l.text)}
				}
				if got := trimEOL(orig[pos]); got != trimEOL(l.text) {
					return "", &HunkMismatchError{Hunk: n + 1, Line: pos + 1,
						Reason: fmt.Sprintf("expected %q, found %q", l.text, got)}
				}
				if l.kind == lineContext {
					out.write(orig[pos])
				}
				pos++
			case lineAdded:
				if l.noEOL {
					out.write(l.text)
				} else {
					out.write(l.text + "\n")
				}
			}
		}
	}
	out.writeAll(orig[pos:])
	return out.String(), nil
}

// findFile picks the entry whose path equals target, falling back to the
// first entry whose path ends with it. A lone headerless entry matches any
// target.
func findFile(files []*fileDiff, target string) *fileDiff {
	target = strings.TrimPrefix(strings.TrimPrefix(target, "a/"), "b/")
	for _, f := range files {
		if f.path == target {
			return f
		}
	}
	for _, f := range files {
		if f.path != "" && strings.HasSuffix(f.path, target) {
			return f
		}
	}
	if len(files) == 1 && files[0].path == "" && len(files[0].hunks) > 0 {
		return files[0]
	}
	return nil
}

// lineWriter terminates an unterminated last line before more text follows.
type lineWriter struct {
	strings.Builder
	open bool
}

func (w *lineWriter) write(s string) {
	if s == "" {
		return
	}
	if w.open {
		w.WriteByte('\n')
	}
	w.WriteString(s)
	w.open = !strings.HasSuffix(s, "\n")
}

func (w *lineWriter) writeAll(lines []string) {
	for _, l := range lines {
		w.write(l)
	}
}

// IsCreation reports whether the first hunk of diff has an empty source
// range, meaning the diff creates its file.
func IsCreation(diff string) bool {
	for _, l := range splitLines(diff) {
		if h, ok := parseHeader(l); ok {
			return h.oldStart == 0 && h.oldCount == 0
		}
	}
	return false
}

// Normalize ends the patch with exactly one newline. Empty input stays empty.
func Normalize(p string) string {
	p = strings.TrimRight(p, "\n")
	if p == "" {
		return ""
	}
	return p + "\n"
}
