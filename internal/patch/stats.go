package patch

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// PatchStats summarises the size of a diff.
type PatchStats struct {
	Files        int      `json:"files"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
	Paths        []string `json:"paths,omitempty"`
}

// Stats parses diff and counts files and changed lines.
func Stats(patch string) (PatchStats, error) {
	if strings.TrimSpace(patch) == "" {
		return PatchStats{}, nil
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return PatchStats{}, fmt.Errorf("parsing diff: %w", err)
	}

	stats := PatchStats{Files: len(fileDiffs)}
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, "a/"), "b/")
		stats.Paths = append(stats.Paths, name)

		for _, h := range fd.Hunks {
			for _, line := range strings.Split(string(h.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					stats.LinesAdded++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					stats.LinesRemoved++
				}
			}
		}
	}
	return stats, nil
}
