package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workflow is one stored workflow script. Updates are full replacements;
// there are no partial patches.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	TriggerType string    `json:"trigger_type"`
	Cron        string    `json:"cron,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExecutionRecord is one persisted execution attempt.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	Data       string    `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Logs       []string  `json:"logs,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// WorkflowStore is the persistence layer for workflows and executions.
type WorkflowStore struct {
	db *DB
}

func NewWorkflowStore(db *DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

// Create inserts a workflow, assigning an id when the caller left it empty.
func (s *WorkflowStore) Create(ctx context.Context, w *Workflow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := s.db.exec(
		`INSERT INTO workflows (id, name, source, trigger_type, cron, enabled, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Source, w.TriggerType, w.Cron, boolInt(w.Enabled),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating workflow %q: %w", w.Name, err)
	}
	return nil
}

// Get loads a workflow by id.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.queryRow(
		`SELECT id, name, source, trigger_type, cron, enabled, created_at, updated_at FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// Update replaces a workflow wholesale.
func (s *WorkflowStore) Update(ctx context.Context, w *Workflow) error {
	w.UpdatedAt = time.Now().UTC()
	res, err := s.db.exec(
		`UPDATE workflows SET name = ?, source = ?, trigger_type = ?, cron = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		w.Name, w.Source, w.TriggerType, w.Cron, boolInt(w.Enabled),
		w.UpdatedAt.Format(time.RFC3339), w.ID)
	if err != nil {
		return fmt.Errorf("updating workflow %q: %w", w.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("workflow %q not found", w.ID)
	}
	return nil
}

// Delete removes a workflow and its execution history.
func (s *WorkflowStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.exec(`DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workflow %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("workflow %q not found", id)
	}
	_, _ = s.db.exec(`DELETE FROM executions WHERE workflow_id = ?`, id)
	return nil
}

// List returns every stored workflow, newest first.
func (s *WorkflowStore) List(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.db.query(
		`SELECT id, name, source, trigger_type, cron, enabled, created_at, updated_at FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()
	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListScheduled returns enabled workflows with a cron schedule; the evaluator
// builds its entry arena from this.
func (s *WorkflowStore) ListScheduled(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.db.query(
		`SELECT id, name, source, trigger_type, cron, enabled, created_at, updated_at FROM workflows WHERE enabled = 1 AND cron != ''`)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled workflows: %w", err)
	}
	defer rows.Close()
	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SourceFor satisfies the executor's WorkflowSource contract.
func (s *WorkflowStore) SourceFor(ctx context.Context, id string) (string, bool, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	return w.Source, w.Enabled, nil
}

// RecordExecution persists one finished attempt. The caller has already
// redacted result data and logs.
func (s *WorkflowStore) RecordExecution(ctx context.Context, workflowID string, rec *ExecutionRecord) error {
	logsJSON, err := json.Marshal(rec.Logs)
	if err != nil {
		logsJSON = []byte("[]")
	}
	_, err = s.db.exec(
		`INSERT INTO executions (id, workflow_id, status, data, error, logs, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, workflowID, rec.Status, rec.Data, rec.Error, string(logsJSON),
		rec.StartedAt.UTC().Format(time.RFC3339), rec.FinishedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording execution %q: %w", rec.ID, err)
	}
	return nil
}

// Executions lists a workflow's attempts, newest first, capped at limit.
func (s *WorkflowStore) Executions(ctx context.Context, workflowID string, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.query(
		`SELECT id, workflow_id, status, data, error, logs, started_at, finished_at FROM executions WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`,
		workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing executions for %q: %w", workflowID, err)
	}
	defer rows.Close()
	var out []*ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var logsJSON, started, finished string
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &rec.Status, &rec.Data, &rec.Error, &logsJSON, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		_ = json.Unmarshal([]byte(logsJSON), &rec.Logs)
		rec.StartedAt, _ = time.Parse(time.RFC3339, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var w Workflow
	var enabled int
	var created, updated string
	err := row.Scan(&w.ID, &w.Name, &w.Source, &w.TriggerType, &w.Cron, &enabled, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning workflow: %w", err)
	}
	w.Enabled = enabled != 0
	w.CreatedAt, _ = time.Parse(time.RFC3339, created)
	w.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &w, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
