// Package localization scores how closely a generated patch touches the same
// files and lines as a reference patch.
package localization

import (
	"regexp"
	"strconv"
	"strings"
)

var newRangeRe = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// Scores holds the file-level and line-level localization scores.
type Scores struct {
	File float64 `json:"localization_score_file"`
	Line float64 `json:"localization_score_line"`
}

// Touched is the set of files and new-file line numbers a diff touches.
type Touched struct {
	Files map[string]struct{}
	Lines map[int]struct{}
}

// Extract scans diff for "diff --git" paths and added new-file lines. An
// unparsable hunk header drops the line cursor until the next valid header.
func Extract(diff string) Touched {
	t := Touched{Files: map[string]struct{}{}, Lines: map[int]struct{}{}}
	cursor, ok := 0, false
	for _, line := range strings.Split(diff, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "diff --git"):
			if fields := strings.Fields(line); len(fields) >= 4 {
				t.Files[strings.TrimPrefix(fields[2], "a/")] = struct{}{}
			}
		case strings.HasPrefix(line, "@@"):
			m := newRangeRe.FindStringSubmatch(line)
			if m == nil {
				ok = false
				continue
			}
			cursor, _ = strconv.Atoi(m[1])
			ok = true
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			if ok {
				t.Lines[cursor] = struct{}{}
				cursor++
			}
		case strings.HasPrefix(line, "-"), strings.HasPrefix(line, `\`):
		default:
			if ok {
				cursor++
			}
		}
	}
	return t
}

// Score compares generated against reference. Both scores are zero when the
// reference is nil, empty, or touches no lines (line score only).
func Score(generated string, reference *string) Scores {
	if reference == nil || strings.TrimSpace(*reference) == "" {
		return Scores{}
	}
	ref := Extract(*reference)
	gen := Extract(generated)

	var s Scores
	for f := range gen.Files {
		if _, hit := ref.Files[f]; hit {
			s.File = 1
			break
		}
	}
	if len(ref.Lines) > 0 {
		hits := 0
		for l := range ref.Lines {
			if _, hit := gen.Lines[l]; hit {
				hits++
			}
		}
		s.Line = float64(hits) / float64(len(ref.Lines))
	}
	return s
}
