package analytics

import (
	"testing"
	"time"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/db"
)

func sampleRuns() []artifacts.RunSummary {
	return []artifacts.RunSummary{
		{InstanceID: "a", Status: "resolved", GenerationAttempts: 1, ValidationAttempts: 1, EvaluationAttempts: 1,
			FileScore: 1, LineScore: 0.5, PromptTokens: 100, CompletionTokens: 10, CostUSD: 0.01,
			FinishedAt: "2026-03-01T10:00:00Z"},
		{InstanceID: "b", Status: "unresolved", GenerationAttempts: 2, ValidationAttempts: 2, EvaluationAttempts: 1,
			FileScore: 1, LineScore: 0, PromptTokens: 200, CompletionTokens: 20, CostUSD: 0.02,
			FinishedAt: "2026-03-02T10:00:00Z"},
		{InstanceID: "c", Status: "error", GenerationAttempts: 3, ValidationAttempts: 3,
			FinishedAt: "2026-03-03T10:00:00Z"},
		{InstanceID: "d", Status: "resolved", GenerationAttempts: 1, ValidationAttempts: 1, EvaluationAttempts: 1,
			FileScore: 0, LineScore: 0.5, FinishedAt: "2026-03-04T10:00:00Z"},
	}
}

// --- Summarize ---

func TestSummarize(t *testing.T) {
	o := Summarize(sampleRuns(), time.Time{})
	if o.Runs != 4 {
		t.Fatalf("Runs = %d, want 4", o.Runs)
	}
	if o.ByStatus["resolved"] != 2 || o.ByStatus["error"] != 1 {
		t.Errorf("ByStatus = %v", o.ByStatus)
	}
	if o.ResolvedPct != 50.0 {
		t.Errorf("ResolvedPct = %f, want 50.0", o.ResolvedPct)
	}
	if o.AvgGenerations != 1.8 {
		t.Errorf("AvgGenerations = %f, want 1.8", o.AvgGenerations)
	}
	if o.FileHitPct != 50.0 {
		t.Errorf("FileHitPct = %f, want 50.0", o.FileHitPct)
	}
	if o.LineCoveragePct != 25.0 {
		t.Errorf("LineCoveragePct = %f, want 25.0", o.LineCoveragePct)
	}
	if o.PromptTokens != 300 || o.CompletionTokens != 30 {
		t.Errorf("tokens = %d/%d", o.PromptTokens, o.CompletionTokens)
	}
	if o.CostUSD != 0.03 {
		t.Errorf("CostUSD = %f, want 0.03", o.CostUSD)
	}
}

func TestSummarize_Since(t *testing.T) {
	since := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	o := Summarize(sampleRuns(), since)
	if o.Runs != 2 {
		t.Errorf("Runs = %d, want 2 (c and d)", o.Runs)
	}
}

func TestSummarize_Empty(t *testing.T) {
	o := Summarize(nil, time.Time{})
	if o.Runs != 0 || o.ResolvedPct != 0 || o.FileHitPct != 0 {
		t.Errorf("empty overview = %+v", o)
	}
}

// --- Attempts ---

func TestAttempts(t *testing.T) {
	dists := Attempts(sampleRuns(), time.Time{})
	if len(dists) != 3 {
		t.Fatalf("got %d phases, want 3", len(dists))
	}
	gen := dists[0]
	if gen.Phase != "generate" || gen.Total != 4 {
		t.Fatalf("generate = %+v", gen)
	}
	if gen.One != 50.0 || gen.Two != 25.0 || gen.ThreePlus != 25.0 {
		t.Errorf("generate dist = %+v", gen)
	}
	eval := dists[2]
	if eval.Total != 3 {
		t.Errorf("evaluate total = %d, want 3 (c never evaluated)", eval.Total)
	}
	if eval.One != 100.0 {
		t.Errorf("evaluate one = %f", eval.One)
	}
}

// --- NodeDurations ---

func TestNodeDurations(t *testing.T) {
	events := []db.NodeEvent{
		{Node: "generate_patch", Result: "PASSED", Duration: 10 * time.Second},
		{Node: "generate_patch", Result: "ERROR", Duration: 30 * time.Second},
		{Node: "validate_patch", Result: "PASSED", Duration: 2 * time.Second},
	}
	got := NodeDurations(events)
	if len(got) != 2 {
		t.Fatalf("got %d nodes, want 2", len(got))
	}
	gen := got[0]
	if gen.Node != "generate_patch" || gen.Count != 2 {
		t.Fatalf("got %+v", gen)
	}
	if gen.Avg != 20.0 {
		t.Errorf("Avg = %f, want 20.0", gen.Avg)
	}
	if gen.Passed != 50.0 {
		t.Errorf("Passed = %f, want 50.0", gen.Passed)
	}
	if got[1].P95 != 2.0 {
		t.Errorf("validate P95 = %f, want 2.0", got[1].P95)
	}
}

func TestNodeDurations_Empty(t *testing.T) {
	if got := NodeDurations(nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

// --- helpers ---

func TestAvg(t *testing.T) {
	if v := avg([]float64{10, 20, 30}); v != 20.0 {
		t.Errorf("avg([10,20,30]) = %f, want 20.0", v)
	}
	if v := avg(nil); v != 0.0 {
		t.Errorf("avg(nil) = %f, want 0.0", v)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p50 := percentile(values, 50)
	if p50 < 5.0 || p50 > 6.0 {
		t.Errorf("p50 = %f, expected ~5.5", p50)
	}
	p95 := percentile(values, 95)
	if p95 < 9.0 || p95 > 10.0 {
		t.Errorf("p95 = %f, expected ~9.6", p95)
	}
	if v := percentile(nil, 50); v != 0.0 {
		t.Errorf("percentile(nil, 50) = %f, want 0.0", v)
	}
}

func TestPct(t *testing.T) {
	if v := pct(1, 4); v != 25.0 {
		t.Errorf("pct(1,4) = %f, want 25.0", v)
	}
	if v := pct(0, 0); v != 0.0 {
		t.Errorf("pct(0,0) = %f, want 0.0", v)
	}
}
