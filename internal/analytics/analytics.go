// Package analytics aggregates run summaries and ledger node events into
// resolve rates, attempt distributions and per-node durations.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/db"
)

// Overview holds outcome counts and averages over a set of runs.
type Overview struct {
	Runs             int            `json:"runs"`
	ByStatus         map[string]int `json:"by_status"`
	ResolvedPct      float64        `json:"resolved_pct"`
	AvgGenerations   float64        `json:"avg_generation_attempts"`
	AvgValidations   float64        `json:"avg_validation_attempts"`
	FileHitPct       float64        `json:"file_hit_pct"`
	LineCoveragePct  float64        `json:"line_coverage_pct"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	CostUSD          float64        `json:"cost_usd"`
}

// Summarize computes an Overview. Runs finished after since are counted;
// a zero since counts all.
func Summarize(runs []artifacts.RunSummary, since time.Time) Overview {
	o := Overview{ByStatus: map[string]int{}}
	var gens, vals, files, lines []float64
	for _, r := range filterSince(runs, since) {
		o.Runs++
		o.ByStatus[r.Status]++
		gens = append(gens, float64(r.GenerationAttempts))
		vals = append(vals, float64(r.ValidationAttempts))
		files = append(files, r.FileScore)
		lines = append(lines, r.LineScore)
		o.PromptTokens += r.PromptTokens
		o.CompletionTokens += r.CompletionTokens
		o.CostUSD += r.CostUSD
	}
	o.ResolvedPct = pct(o.ByStatus["resolved"], o.Runs)
	o.AvgGenerations = avg(gens)
	o.AvgValidations = avg(vals)
	o.FileHitPct = math.Round(mean(files)*1000) / 10
	o.LineCoveragePct = math.Round(mean(lines)*1000) / 10
	o.CostUSD = math.Round(o.CostUSD*10000) / 10000
	return o
}

// AttemptDist is the distribution of attempts spent in one phase.
type AttemptDist struct {
	Phase     string  `json:"phase"`
	Total     int     `json:"total"`
	One       float64 `json:"one_attempt_pct"`
	Two       float64 `json:"two_attempts_pct"`
	ThreePlus float64 `json:"three_plus_pct"`
}

// Attempts returns the attempt distribution of the generate, validate and
// evaluate phases. Runs that never entered a phase are not counted for it.
func Attempts(runs []artifacts.RunSummary, since time.Time) []AttemptDist {
	phases := []struct {
		name string
		get  func(artifacts.RunSummary) int
	}{
		{"generate", func(r artifacts.RunSummary) int { return r.GenerationAttempts }},
		{"validate", func(r artifacts.RunSummary) int { return r.ValidationAttempts }},
		{"evaluate", func(r artifacts.RunSummary) int { return r.EvaluationAttempts }},
	}
	filtered := filterSince(runs, since)

	out := make([]AttemptDist, 0, len(phases))
	for _, ph := range phases {
		var total, one, two, more int
		for _, r := range filtered {
			switch n := ph.get(r); {
			case n <= 0:
				continue
			case n == 1:
				one++
			case n == 2:
				two++
			default:
				more++
			}
			total++
		}
		out = append(out, AttemptDist{
			Phase:     ph.name,
			Total:     total,
			One:       pct(one, total),
			Two:       pct(two, total),
			ThreePlus: pct(more, total),
		})
	}
	return out
}

// NodeDuration holds duration stats for a lifecycle node.
type NodeDuration struct {
	Node   string  `json:"node"`
	Count  int     `json:"count"`
	Passed float64 `json:"passed_pct"`
	Avg    float64 `json:"avg_seconds"`
	P50    float64 `json:"p50_seconds"`
	P95    float64 `json:"p95_seconds"`
}

// NodeDurations returns average and percentile durations per node.
func NodeDurations(events []db.NodeEvent) []NodeDuration {
	durations := make(map[string][]float64)
	passed := make(map[string]int)
	for _, e := range events {
		durations[e.Node] = append(durations[e.Node], e.Duration.Seconds())
		if e.Result == "PASSED" {
			passed[e.Node]++
		}
	}

	results := make([]NodeDuration, 0, len(durations))
	for node, ds := range durations {
		sort.Float64s(ds)
		results = append(results, NodeDuration{
			Node:   node,
			Count:  len(ds),
			Passed: pct(passed[node], len(ds)),
			Avg:    avg(ds),
			P50:    percentile(ds, 50),
			P95:    percentile(ds, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Node < results[j].Node
	})
	return results
}

func filterSince(runs []artifacts.RunSummary, since time.Time) []artifacts.RunSummary {
	if since.IsZero() {
		return runs
	}
	var out []artifacts.RunSummary
	for _, r := range runs {
		t, err := time.Parse(time.RFC3339, r.FinishedAt)
		if err != nil || t.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// --- helpers ---

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func avg(values []float64) float64 {
	return math.Round(mean(values)*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
