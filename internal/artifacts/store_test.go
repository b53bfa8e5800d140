package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestPatchRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.LoadPatch("x-1"); err != nil || ok {
		t.Fatalf("LoadPatch on empty store: ok=%v err=%v", ok, err)
	}

	want := "diff --git a/a.py b/a.py\n--- a/a.py\n+++ b/a.py\n@@ -1 +1 @@\n-x\n+y\n"
	if err := s.SavePatch("x-1", want); err != nil {
		t.Fatalf("SavePatch: %v", err)
	}
	got, ok, err := s.LoadPatch("x-1")
	if err != nil || !ok {
		t.Fatalf("LoadPatch: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("LoadPatch = %q, want %q", got, want)
	}
	if filepath.Base(s.PatchPath("x-1")) != "x-1.patch" {
		t.Errorf("PatchPath = %q", s.PatchPath("x-1"))
	}
}

func TestSavePredictions(t *testing.T) {
	s := newTestStore(t)
	path, err := s.SavePredictions("x-1", []Prediction{{InstanceID: "x-1", ModelPatch: "p", ModelNameOrPath: "gpt-4o"}})
	if err != nil {
		t.Fatalf("SavePredictions: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"instance_id": "x-1"`, `"model_patch": "p"`, `"model_name_or_path": "gpt-4o"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("predictions file missing %s:\n%s", key, data)
		}
	}
}

func TestSummaryCreateGetUpdate(t *testing.T) {
	s := newTestStore(t)

	sum := &RunSummary{InstanceID: "x-1", Status: "unknown", ValidationAttempts: 1}
	if err := s.SaveSummary(sum); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if sum.FinishedAt == "" {
		t.Error("FinishedAt should be stamped")
	}

	if err := s.Update("x-1", func(r *RunSummary) {
		r.Status = "resolved"
		r.ValidationAttempts = 2
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.GetSummary("x-1")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if got.Status != "resolved" {
		t.Errorf("Status = %q, want %q", got.Status, "resolved")
	}
	if got.ValidationAttempts != 2 {
		t.Errorf("ValidationAttempts = %d, want 2", got.ValidationAttempts)
	}
}

func TestSaveSummaryRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveSummary(&RunSummary{}); err == nil {
		t.Error("expected error for missing instance id")
	}
}

func TestGetSummaryMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSummary("nope"); err == nil {
		t.Error("expected error for missing summary")
	}
}

func TestClearSummary(t *testing.T) {
	s := newTestStore(t)
	if err := s.ClearSummary("x-1"); err != nil {
		t.Fatalf("ClearSummary on missing summary: %v", err)
	}
	if err := s.SaveSummary(&RunSummary{InstanceID: "x-1", Status: "resolved"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSummary("x-1"); err != nil {
		t.Fatalf("ClearSummary: %v", err)
	}
	if _, err := os.Stat(s.SummaryPath("x-1")); !os.IsNotExist(err) {
		t.Errorf("summary still present: %v", err)
	}
}

func TestListSkipsOtherFiles(t *testing.T) {
	s := newTestStore(t)
	for _, r := range []RunSummary{
		{InstanceID: "b-2", Status: "unresolved"},
		{InstanceID: "a-1", Status: "resolved"},
		{InstanceID: "c-3", Status: "resolved"},
	} {
		r := r
		if err := s.SaveSummary(&r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.SavePredictions("a-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveState("a-1", map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	// A sampling decision carries the instance id but is not a summary.
	if err := WriteJSON(s.DecisionPath("a-1"), map[string]any{"instance_id": "a-1", "selected_patch_idx": 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.SampleStore("a-1", 0).SaveSummary(&RunSummary{InstanceID: "a-1", Status: "failed"}); err != nil {
		t.Fatal(err)
	}
	// A harness report: valid JSON without an instance id.
	if err := WriteJSON(s.Path("gpt-4o.agent-eval-1234abcd.json"), map[string]int{"resolved_instances": 1}); err != nil {
		t.Fatal(err)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d summaries, want 3", len(all))
	}
	if all[0].InstanceID != "a-1" || all[2].InstanceID != "c-3" {
		t.Errorf("List not sorted: %v, %v", all[0].InstanceID, all[2].InstanceID)
	}

	resolved, err := s.List("resolved")
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 2 {
		t.Errorf("List(resolved) = %d, want 2", len(resolved))
	}
}

func TestListMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"))
	got, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got != nil {
		t.Errorf("List = %v, want nil", got)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	type snap struct {
		Patch string `json:"patch"`
	}
	if err := s.SaveState("x-1", snap{Patch: "p"}); err != nil {
		t.Fatal(err)
	}
	var got snap
	if err := s.LoadState("x-1", &got); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Patch != "p" {
		t.Errorf("Patch = %q, want %q", got.Patch, "p")
	}
	if err := s.LoadState("missing", &got); err == nil {
		t.Error("expected error for missing state")
	}
}

func TestRelocate(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(src, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}
	dst, err := s.Relocate(src)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if dst != s.Path("report.json") {
		t.Errorf("Relocate = %q", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after Relocate")
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing: %v", err)
	}

	// Already in place.
	again, err := s.Relocate(dst)
	if err != nil || again != dst {
		t.Errorf("Relocate in place = %q, %v", again, err)
	}
}

func TestConcurrentSummaries(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "inst-" + string(rune('a'+n))
			if err := s.SaveSummary(&RunSummary{InstanceID: id, Status: "resolved"}); err != nil {
				t.Errorf("SaveSummary(%s): %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := s.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 {
		t.Errorf("List = %d summaries, want 10", len(all))
	}
}
