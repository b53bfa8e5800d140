package patch

import (
	"regexp"
	"strings"
)

var chunkBoundaryRe = regexp.MustCompile(`(?m)^diff --git a/(\S+) b/(\S+)[ \t]*\r?$`)

// Chunk is the part of a multi-file diff that touches a single path.
type Chunk struct {
	Path string
	Diff string
}

// Split breaks diff into one chunk per "diff --git a/<p> b/<p>" boundary.
// Boundaries whose two paths differ are not recognised. Text before the
// first boundary is dropped, and a diff with no boundary yields no chunks.
func Split(diff string) []Chunk {
	var starts []int
	var paths []string
	for _, m := range chunkBoundaryRe.FindAllStringSubmatchIndex(diff, -1) {
		a, b := diff[m[2]:m[3]], diff[m[4]:m[5]]
		if a != b {
			continue
		}
		starts = append(starts, m[0])
		paths = append(paths, a)
	}

	chunks := make([]Chunk, 0, len(starts))
	for i, start := range starts {
		end := len(diff)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		body := diff[start:end]
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		chunks = append(chunks, Chunk{Path: paths[i], Diff: body})
	}
	return chunks
}
