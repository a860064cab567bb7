package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/hivemind/internal/workflow"
)

// TaskRecord is one settled dispatch, as persisted.
type TaskRecord struct {
	TaskID     string        `json:"task_id"`
	WorkflowID string        `json:"workflow_id,omitempty"`
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Capability string        `json:"capability"`
	AgentID    string        `json:"agent_id,omitempty"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	Attempts   int           `json:"attempts"`
	SettledAt  time.Time     `json:"settled_at"`
}

// WorkflowRun is one executed workflow, as persisted.
type WorkflowRun struct {
	WorkflowID string          `json:"workflow_id"`
	Name       string          `json:"name"`
	Success    bool            `json:"success"`
	TaskCount  int             `json:"task_count"`
	Results    json.RawMessage `json:"results"`
	Duration   time.Duration   `json:"duration"`
	SettledAt  time.Time       `json:"settled_at"`
}

// SaveTaskRecord persists a settled task dispatch.
func (s *Store) SaveTaskRecord(ctx context.Context, workflowID string, t *workflow.Task) error {
	if t.Result == nil {
		return fmt.Errorf("task %s has no result", t.ID)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO task_history (task_id, workflow_id, name, type, capability, agent_id, success, error, latency_ms, attempts, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, nullable(workflowID), t.Name, t.Type, t.Capability,
		nullable(t.Result.AgentID), t.Result.Success, t.Result.Error,
		t.Result.Latency.Milliseconds(), t.Result.Attempts, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save task record %s: %w", t.ID, err)
	}
	return nil
}

// SaveWorkflowRun persists a settled workflow execution.
func (s *Store) SaveWorkflowRun(ctx context.Context, wf *workflow.Workflow, res *workflow.WorkflowResult) error {
	results, err := json.Marshal(res.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_runs (workflow_id, name, success, task_count, results, duration_ms, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.ID, wf.Name, res.Success, len(wf.Tasks), results,
		res.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save workflow run %s: %w", wf.ID, err)
	}
	return nil
}

// ListTaskRecords returns the most recent settled dispatches.
func (s *Store) ListTaskRecords(ctx context.Context, limit int) ([]*TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT task_id, COALESCE(workflow_id,''), name, type, capability,
		       COALESCE(agent_id,''), success, COALESCE(error,''), latency_ms, attempts, settled_at
		FROM task_history
		ORDER BY settled_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		var r TaskRecord
		var latencyMS int64
		if err := rows.Scan(
			&r.TaskID, &r.WorkflowID, &r.Name, &r.Type, &r.Capability,
			&r.AgentID, &r.Success, &r.Error, &latencyMS, &r.Attempts, &r.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("scan task record: %w", err)
		}
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		records = append(records, &r)
	}
	return records, rows.Err()
}

// ListWorkflowRuns returns the most recent workflow executions.
func (s *Store) ListWorkflowRuns(ctx context.Context, limit int) ([]*WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT workflow_id, name, success, task_count, results, duration_ms, settled_at
		FROM workflow_runs
		ORDER BY settled_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		var r WorkflowRun
		var durationMS int64
		if err := rows.Scan(
			&r.WorkflowID, &r.Name, &r.Success, &r.TaskCount, &r.Results, &durationMS, &r.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
