package patch

import (
	"fmt"
	"strings"
)

// RepairHunkHeaders rewrites every hunk header so its line counts match the
// body that follows it. Start offsets, section text and body lines are kept
// as-is; only the counts change. Headers with omitted counts are accepted
// and always written back with explicit counts.
func RepairHunkHeaders(diff string) string {
	raw := strings.SplitAfter(diff, "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = trimEOL(l)
	}

	for i, l := range lines {
		m := hunkHeaderRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		context, removed, added := countBody(lines, i+1)
		eol := raw[i][len(l):]
		raw[i] = fmt.Sprintf("@@ -%s,%d +%s,%d @@%s", m[1], context+removed, m[3], context+added, m[5]) + eol
	}
	return strings.Join(raw, "")
}

// countBody tallies the hunk body starting at i. The body ends at the next
// hunk header, file header or end of input. A body line that merely begins
// with "---" or "+++" is a removal or addition; only a "--- "/"+++ " pair
// ends the body, matching how Apply reads hunks.
func countBody(lines []string, i int) (context, removed, added int) {
	for ; i < len(lines); i++ {
		l := lines[i]
		switch {
		case strings.HasPrefix(l, "@@"), strings.HasPrefix(l, "diff --git "), isFilePair(lines, i):
			return
		case l == "":
			if moreBody(lines, i+1) {
				context++
			}
		case l[0] == ' ':
			context++
		case l[0] == '-':
			removed++
		case l[0] == '+':
			added++
		}
	}
	return
}
