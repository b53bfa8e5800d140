package patch

import (
	"regexp"
	"strconv"
	"strings"
)

// hunkHeaderRe matches "@@ -a[,b] +c[,d] @@[section]".
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

var gitHeaderRe = regexp.MustCompile(`^diff --git a/(\S+) b/(\S+)`)

type lineKind byte

const (
	lineContext lineKind = ' '
	lineRemoved lineKind = '-'
	lineAdded   lineKind = '+'
)

type hunkLine struct {
	kind  lineKind
	text  string
	noEOL bool
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []hunkLine
}

type fileDiff struct {
	path  string
	hunks []*hunk
}

// splitLines splits diff text on "\n" and drops the empty element produced
// by a trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// splitKeepEnds splits s into lines, each keeping its terminator.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func trimEOL(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// isFilePair reports whether lines[i] starts a "--- "/"+++ " header pair.
func isFilePair(lines []string, i int) bool {
	return strings.HasPrefix(lines[i], "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

// isBodyLine reports whether lines[i] can belong to a hunk body.
func isBodyLine(lines []string, i int) bool {
	l := lines[i]
	if l == "" {
		return false
	}
	switch l[0] {
	case ' ', '+', '\\':
		return true
	case '-':
		return !isFilePair(lines, i)
	}
	return false
}

// moreBody reports whether a hunk body line follows position i, skipping
// blank lines.
func moreBody(lines []string, i int) bool {
	for ; i < len(lines); i++ {
		if lines[i] == "" {
			continue
		}
		return isBodyLine(lines, i)
	}
	return false
}

// headerPath extracts the path from a "---"/"+++" header value.
func headerPath(v string) string {
	if i := strings.IndexByte(v, '\t'); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimSpace(v)
	if v == "/dev/null" {
		return v
	}
	v = strings.TrimPrefix(v, "a/")
	return strings.TrimPrefix(v, "b/")
}

func parseHeader(line string) (*hunk, bool) {
	m := hunkHeaderRe.FindStringSubmatch(trimEOL(line))
	if m == nil {
		return nil, false
	}
	h := &hunk{oldCount: 1, newCount: 1}
	h.oldStart, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		h.oldCount, _ = strconv.Atoi(m[2])
	}
	h.newStart, _ = strconv.Atoi(m[3])
	if m[4] != "" {
		h.newCount, _ = strconv.Atoi(m[4])
	}
	return h, true
}

// parseHunkBody reads body lines of a hunk starting at i and returns the
// index of the first line that does not belong to it.
func parseHunkBody(h *hunk, lines []string, i int) int {
	for ; i < len(lines); i++ {
		l := lines[i]
		if l == "" {
			if !moreBody(lines, i+1) {
				return i
			}
			h.lines = append(h.lines, hunkLine{kind: lineContext})
			continue
		}
		if !isBodyLine(lines, i) {
			return i
		}
		if l[0] == '\\' {
			if n := len(h.lines); n > 0 {
				h.lines[n-1].noEOL = true
			}
			continue
		}
		h.lines = append(h.lines, hunkLine{kind: lineKind(l[0]), text: l[1:]})
	}
	return i
}

// parseFiles parses a (possibly multi-file) unified diff into per-file
// hunks. Hunks that appear before any header form a file with an empty path.
func parseFiles(diff string) []*fileDiff {
	lines := splitLines(diff)
	var files []*fileDiff
	var cur *fileDiff
	for i := 0; i < len(lines); {
		l := lines[i]
		switch {
		case strings.HasPrefix(l, "diff --git "):
			cur = &fileDiff{}
			if m := gitHeaderRe.FindStringSubmatch(trimEOL(l)); m != nil {
				cur.path = m[2]
			}
			files = append(files, cur)
			i++
		case isFilePair(lines, i):
			if cur == nil || len(cur.hunks) > 0 {
				cur = &fileDiff{}
				files = append(files, cur)
			}
			p := headerPath(lines[i+1][4:])
			if p == "/dev/null" {
				p = headerPath(l[4:])
			}
			if p != "/dev/null" {
				cur.path = p
			}
			i += 2
		default:
			h, ok := parseHeader(l)
			if !ok {
				i++
				continue
			}
			if cur == nil {
				cur = &fileDiff{}
				files = append(files, cur)
			}
			i = parseHunkBody(h, lines, i+1)
			cur.hunks = append(cur.hunks, h)
		}
	}
	return files
}
