package patch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbered(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	return sb.String()
}

func TestRediff_RoundTrip(t *testing.T) {
	long := numbered(40)
	tests := []struct {
		name          string
		before, after string
	}{
		{"replace middle", "a\nb\nc\n", "a\nB\nc\n"},
		{"append", "a\n", "a\nb\nc\n"},
		{"delete lines", "a\nb\nc\nd\n", "a\nd\n"},
		{"create", "", "x\ny\n"},
		{"empty out", "a\nb\n", ""},
		{"add trailing newline", "a\nb", "a\nb\n"},
		{"drop trailing newline", "a\nb\n", "a\nb"},
		{"distant edits", long, strings.Replace(strings.Replace(long, "line 3\n", "LINE 3\n", 1), "line 37\n", "", 1)},
		{"insert at top", long, "header\n" + long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Rediff("pkg/p.py", tt.before, tt.after)
			require.NotEmpty(t, d)
			got, err := Apply(tt.before, d, "pkg/p.py")
			require.NoError(t, err, "diff:\n%s", d)
			assert.Equal(t, tt.after, got)
		})
	}
}

func TestRediff_NoDelta(t *testing.T) {
	assert.Empty(t, Rediff("p.py", "same\n", "same\n"))
	assert.Empty(t, Rediff("p.py", "", ""))
}

func TestRediff_Headers(t *testing.T) {
	d := Rediff("p.py", "a\nb\nc\n", "a\nB\nc\n")
	want := "diff --git a/p.py b/p.py\n--- a/p.py\n+++ b/p.py\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	assert.Equal(t, want, d)
}

func TestRediff_CreationHeaders(t *testing.T) {
	d := Rediff("n.py", "", "x\n")
	assert.Equal(t, "diff --git a/n.py b/n.py\nnew file mode 100644\n--- /dev/null\n+++ b/n.py\n@@ -0,0 +1 @@\n+x\n", d)
	assert.True(t, IsCreation(d))
}

func TestRediff_SeparateGroups(t *testing.T) {
	long := numbered(40)
	after := strings.Replace(strings.Replace(long, "line 2\n", "X\n", 1), "line 39\n", "Y\n", 1)
	d := Rediff("p", long, after)
	assert.Equal(t, 2, strings.Count(d, "\n@@ "))
}

func TestRediff_NoNewlineMarker(t *testing.T) {
	d := Rediff("p", "a\n", "a\nb")
	assert.Contains(t, d, "+b\n\\ No newline at end of file\n")
}
