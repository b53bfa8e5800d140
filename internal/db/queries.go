package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Run is a row in the runs table.
type Run struct {
	ID                 string
	InstanceID         string
	Model              string
	Status             string
	FinalNode          string
	EvaluationStatus   string
	GenerationAttempts int
	ValidationAttempts int
	EvaluationAttempts int
	FileScore          float64
	LineScore          float64
	Error              string
	StartedAt          time.Time
	FinishedAt         *time.Time
}

// NodeEvent is a row in the node_events table.
type NodeEvent struct {
	ID        int64
	RunID     string
	Node      string
	Step      int
	Result    string
	Attempt   int
	Duration  time.Duration
	Detail    string
	Timestamp time.Time
}

// RunOutcome is what FinishRun records.
type RunOutcome struct {
	Status             string
	FinalNode          string
	EvaluationStatus   string
	GenerationAttempts int
	ValidationAttempts int
	EvaluationAttempts int
	FileScore          float64
	LineScore          float64
	Error              string
}

// StartRun inserts a running row and returns its id.
func (d *DB) StartRun(ctx context.Context, instanceID, model string) (string, error) {
	id := uuid.NewString()
	_, err := d.pool.Exec(ctx,
		`INSERT INTO runs (id, instance_id, model) VALUES ($1, $2, $3)`,
		id, instanceID, model,
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// LogNodeEvent records one node execution.
func (d *DB) LogNodeEvent(ctx context.Context, e NodeEvent) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO node_events (run_id, node, step, result, attempt, duration_ms, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		e.RunID, e.Node, e.Step, e.Result, e.Attempt, e.Duration.Milliseconds(), e.Detail,
	)
	if err != nil {
		return fmt.Errorf("log node event: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (d *DB) FinishRun(ctx context.Context, runID string, o RunOutcome) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE runs SET status = $2, final_node = $3, evaluation_status = NULLIF($4, ''),
		        generation_attempts = $5, validation_attempts = $6, evaluation_attempts = $7,
		        file_score = $8, line_score = $9, error = NULLIF($10, ''), finished_at = now()
		 WHERE id = $1`,
		runID, o.Status, o.FinalNode, o.EvaluationStatus,
		o.GenerationAttempts, o.ValidationAttempts, o.EvaluationAttempts,
		o.FileScore, o.LineScore, o.Error,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: no run %s", runID)
	}
	return nil
}

const runColumns = `id, instance_id, model, status, COALESCE(final_node, ''), COALESCE(evaluation_status, ''),
	generation_attempts, validation_attempts, evaluation_attempts,
	COALESCE(file_score, 0), COALESCE(line_score, 0), COALESCE(error, ''), started_at, finished_at`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.InstanceID, &r.Model, &r.Status, &r.FinalNode, &r.EvaluationStatus,
		&r.GenerationAttempts, &r.ValidationAttempts, &r.EvaluationAttempts,
		&r.FileScore, &r.LineScore, &r.Error, &r.StartedAt, &r.FinishedAt)
	return r, err
}

func collectRuns(rows pgx.Rows) ([]Run, error) {
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run, or nil when it does not exist.
func (d *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(d.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// RunHistory returns every run of an instance, newest first.
func (d *DB) RunHistory(ctx context.Context, instanceID string) ([]Run, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE instance_id = $1 ORDER BY started_at DESC, id`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("run history: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("run history: %w", err)
	}
	return runs, nil
}

// ListRuns returns the most recent runs across all instances.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// NodeEvents returns the node executions of a run in step order.
func (d *DB) NodeEvents(ctx context.Context, runID string) ([]NodeEvent, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, node, step, result, attempt, duration_ms, COALESCE(detail, ''), timestamp
		 FROM node_events WHERE run_id = $1 ORDER BY step, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("node events: %w", err)
	}
	defer rows.Close()

	var out []NodeEvent
	for rows.Next() {
		var e NodeEvent
		var ms int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Node, &e.Step, &e.Result, &e.Attempt, &ms, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("node events: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
