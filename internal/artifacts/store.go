// Package artifacts owns the per-instance files written to the output
// directory: patches, harness predictions, trajectories, state and summaries.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Store manages instance artifacts in a flat output directory. Every file
// name is prefixed with the instance id.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path returns the path of a file in the output directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.baseDir, name)
}

func (s *Store) PatchPath(id string) string       { return s.Path(id + ".patch") }
func (s *Store) PredictionsPath(id string) string { return s.Path(id + ".predictions.json") }
func (s *Store) TrajectoryPath(id string) string  { return s.Path(id + ".trajectory.jsonl") }
func (s *Store) StatePath(id string) string       { return s.Path(id + ".state.json") }
func (s *Store) SummaryPath(id string) string     { return s.Path(id + ".json") }
func (s *Store) MetricsPath(id string) string     { return s.Path(id + ".metrics.prom") }
func (s *Store) LogPath(id string) string         { return s.Path(id + ".log") }
func (s *Store) CandidatesPath(id string) string  { return s.Path(id + ".candidates.json") }
func (s *Store) DecisionPath(id string) string    { return s.Path(id + ".decision.json") }

// SampleStore is where candidate i of a sampled run keeps its artifacts.
func (s *Store) SampleStore(id string, i int) *Store {
	return NewStore(filepath.Join(s.baseDir, id+".samples", strconv.Itoa(i)))
}

// SavePatch writes the current patch text for an instance.
func (s *Store) SavePatch(id, patch string) error {
	if err := WriteAtomic(s.PatchPath(id), []byte(patch)); err != nil {
		return fmt.Errorf("save patch: %w", err)
	}
	return nil
}

// LoadPatch reads a cached patch. ok is false when none exists.
func (s *Store) LoadPatch(id string) (patch string, ok bool, err error) {
	data, err := os.ReadFile(s.PatchPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load patch: %w", err)
	}
	return string(data), true, nil
}

// SavePredictions writes the harness predictions file and returns its path.
func (s *Store) SavePredictions(id string, preds []Prediction) (string, error) {
	path := s.PredictionsPath(id)
	if err := WriteJSON(path, preds); err != nil {
		return "", fmt.Errorf("save predictions: %w", err)
	}
	return path, nil
}

// SaveState writes a snapshot of the lifecycle state.
func (s *Store) SaveState(id string, state any) error {
	return WriteJSON(s.StatePath(id), state)
}

// LoadState reads a lifecycle state snapshot into v.
func (s *Store) LoadState(id string, v any) error {
	if err := ReadJSON(s.StatePath(id), v); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no state recorded for %s", id)
		}
		return err
	}
	return nil
}

// SaveSummary writes the run summary, stamping FinishedAt when unset.
func (s *Store) SaveSummary(sum *RunSummary) error {
	if sum.InstanceID == "" {
		return errors.New("save summary: instance id is required")
	}
	if sum.FinishedAt == "" {
		sum.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return WriteJSON(s.SummaryPath(sum.InstanceID), sum)
}

// GetSummary reads the run summary for an instance.
func (s *Store) GetSummary(id string) (*RunSummary, error) {
	var sum RunSummary
	if err := ReadJSON(s.SummaryPath(id), &sum); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no summary for %s", id)
		}
		return nil, err
	}
	return &sum, nil
}

// ClearSummary removes the summary for an instance. A missing summary is
// not an error.
func (s *Store) ClearSummary(id string) error {
	if err := os.Remove(s.SummaryPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear summary: %w", err)
	}
	return nil
}

// Update performs a read-modify-write of an instance summary.
func (s *Store) Update(id string, fn func(*RunSummary)) error {
	sum, err := s.GetSummary(id)
	if err != nil {
		return err
	}
	fn(sum)
	sum.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.SummaryPath(id), sum)
}

// List returns every run summary in the output directory, optionally
// filtered by status. Pass "" to return all.
func (s *Store) List(statusFilter string) ([]RunSummary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var out []RunSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSummaryName(name) {
			continue
		}
		sum, err := s.GetSummary(strings.TrimSuffix(name, ".json"))
		if err != nil || sum.InstanceID == "" {
			continue // harness reports and other JSON files
		}
		if statusFilter == "" || sum.Status == statusFilter {
			out = append(out, *sum)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].InstanceID < out[j].InstanceID
	})
	return out, nil
}

func isSummaryName(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	for _, suffix := range []string{".predictions.json", ".state.json", ".candidates.json", ".decision.json"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}

// Relocate moves an externally produced file (the harness report) into the
// output directory and returns its new path.
func (s *Store) Relocate(src string) (string, error) {
	dst := s.Path(filepath.Base(src))
	if filepath.Clean(src) == filepath.Clean(dst) {
		return dst, nil
	}
	if err := Move(src, dst); err != nil {
		return "", fmt.Errorf("relocate %s: %w", src, err)
	}
	return dst, nil
}
