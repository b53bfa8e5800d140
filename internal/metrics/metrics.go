// Package metrics records per-run Prometheus metrics and writes them as a
// node-exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "patchfactory"

// Recorder owns a registry for a single run. Recorders never share state.
type Recorder struct {
	registry       *prometheus.Registry
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	evaluations    *prometheus.CounterVec
	tokens         *prometheus.CounterVec
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Lifecycle node executions by node and result.",
		}, []string{"node", "result"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall-clock time spent in each lifecycle node.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"node"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Harness evaluations by status.",
		}, []string{"status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by kind.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.nodeExecutions, r.nodeDuration, r.evaluations, r.tokens)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveNode records one node execution.
func (r *Recorder) ObserveNode(node, result string, d time.Duration) {
	r.nodeExecutions.WithLabelValues(node, result).Inc()
	r.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

// ObserveEvaluation counts an evaluation outcome.
func (r *Recorder) ObserveEvaluation(status string) {
	r.evaluations.WithLabelValues(status).Inc()
}

// AddTokens adds token usage.
func (r *Recorder) AddTokens(prompt, completion int) {
	if prompt > 0 {
		r.tokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		r.tokens.WithLabelValues("completion").Add(float64(completion))
	}
}

// WriteTextfile writes the registry in text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
