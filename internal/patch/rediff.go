package patch

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const contextLines = 3

// Rediff produces a git-style unified diff turning before into after, with
// three lines of context. It returns "" when the texts are equal. An empty
// before is rendered as a file creation.
func Rediff(path, before, after string) string {
	if before == after {
		return ""
	}
	a, b := splitKeepEnds(before), splitKeepEnds(after)
	groups := difflib.NewMatcher(a, b).GetGroupedOpCodes(contextLines)
	if len(groups) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", path, path)
	if before == "" {
		sb.WriteString("new file mode 100644\n--- /dev/null\n")
	} else {
		fmt.Fprintf(&sb, "--- a/%s\n", path)
	}
	fmt.Fprintf(&sb, "+++ b/%s\n", path)

	for _, g := range groups {
		first, last := g[0], g[len(g)-1]
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", unifiedRange(first.I1, last.I2), unifiedRange(first.J1, last.J2))
		for _, op := range g {
			if op.Tag == 'e' {
				for _, l := range a[op.I1:op.I2] {
					writeDiffLine(&sb, ' ', l)
				}
				continue
			}
			if op.Tag == 'r' || op.Tag == 'd' {
				for _, l := range a[op.I1:op.I2] {
					writeDiffLine(&sb, '-', l)
				}
			}
			if op.Tag == 'r' || op.Tag == 'i' {
				for _, l := range b[op.J1:op.J2] {
					writeDiffLine(&sb, '+', l)
				}
			}
		}
	}
	return sb.String()
}

// unifiedRange formats a half-open 0-based range the way unified diff
// headers expect.
func unifiedRange(start, stop int) string {
	begin := start + 1
	length := stop - start
	if length == 1 {
		return fmt.Sprintf("%d", begin)
	}
	if length == 0 {
		begin--
	}
	return fmt.Sprintf("%d,%d", begin, length)
}

func writeDiffLine(sb *strings.Builder, prefix byte, line string) {
	sb.WriteByte(prefix)
	sb.WriteString(line)
	if !strings.HasSuffix(line, "\n") {
		sb.WriteString("\n\\ No newline at end of file\n")
	}
}
