package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/lucasnoah/patchfactory/internal/analytics"
	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/db"
)

// ---- view models ----

type DashboardData struct {
	Runs     []RunRow
	Overview analytics.Overview
}

type RunRow struct {
	InstanceID  string
	Status      string
	FinalNode   string
	Attempts    string
	FileScore   float64
	LineScore   float64
	FinishedAgo string
}

type RunData struct {
	Summary *artifacts.RunSummary
	Patch   string
	History []HistoryRow
}

type HistoryRow struct {
	Run    db.Run
	Events []db.NodeEvent
}

// ---- handlers ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sums, err := s.store.List(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := DashboardData{Overview: analytics.Summarize(sums, time.Time{})}
	for _, sum := range sums {
		data.Runs = append(data.Runs, RunRow{
			InstanceID:  sum.InstanceID,
			Status:      sum.Status,
			FinalNode:   sum.FinalNode,
			Attempts:    attempts(sum),
			FileScore:   sum.FileScore,
			LineScore:   sum.LineScore,
			FinishedAgo: relTime(sum.FinishedAt),
		})
	}
	s.render(w, s.dashboardTmpl, data)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum, err := s.store.GetSummary(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data := RunData{Summary: sum}
	if p, ok, err := s.store.LoadPatch(id); err == nil && ok {
		data.Patch = p
	}
	if s.ledger != nil {
		runs, err := s.ledger.RunHistory(r.Context(), id)
		if err != nil {
			s.logger.Warn("loading run history", "instance_id", id, "error", err)
		}
		for _, run := range runs {
			events, err := s.ledger.NodeEvents(r.Context(), run.ID)
			if err != nil {
				s.logger.Warn("loading node events", "run_id", run.ID, "error", err)
			}
			data.History = append(data.History, HistoryRow{Run: run, Events: events})
		}
	}
	s.render(w, s.runTmpl, data)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	sums, err := s.store.List(r.URL.Query().Get("status"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if sums == nil {
		sums = []artifacts.RunSummary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.GetSummary(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAPIAnalytics(w http.ResponseWriter, r *http.Request) {
	sums, err := s.store.List("")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overview": analytics.Summarize(sums, time.Time{}),
		"attempts": analytics.Attempts(sums, time.Time{}),
	})
}

// ---- helpers ----

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.logger.Error("render template", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func attempts(s artifacts.RunSummary) string {
	return fmt.Sprintf("%d/%d/%d", s.GenerationAttempts, s.ValidationAttempts, s.EvaluationAttempts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
