package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aj002fr/frgpt/pkg/models"
)

// Sentinel errors for task store operations.
var (
	// ErrAlreadyStarted indicates start_task was called twice for the same
	// (run_id, task_id).
	ErrAlreadyStarted = errors.New("task already started")

	// ErrTaskNotRunning indicates complete_task found no row in state
	// running for the given key.
	ErrTaskNotRunning = errors.New("task is not running")

	// ErrOutputExists indicates store_output was called twice for the same
	// (run_id, task_id).
	ErrOutputExists = errors.New("task output already stored")
)

// StartTask inserts a worker run row in state running. Each (run_id, task_id)
// may be started at most once per run.
func (c *Client) StartTask(ctx context.Context, runID, taskID, agentID string, startedAt time.Time) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO worker_runs (run_id, task_id, agent_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task_id) DO NOTHING`),
		runID, taskID, agentID, string(models.RunStatusRunning), startedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to start task %s/%s: %w", runID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to start task %s/%s: %w", runID, taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyStarted, runID, taskID)
	}
	return nil
}

// CompleteTask transitions a running task to success and records its duration
// and artifact reference. The transition is monotonic: only running rows are
// updated.
func (c *Client) CompleteTask(ctx context.Context, runID, taskID string, durationMS int64, artifactRef string) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`
		UPDATE worker_runs
		SET status = ?, completed_at = ?, duration_ms = ?, artifact_ref = ?
		WHERE run_id = ? AND task_id = ? AND status = ?`),
		string(models.RunStatusSuccess), time.Now().UTC(), durationMS, artifactRef,
		runID, taskID, string(models.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to complete task %s/%s: %w", runID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete task %s/%s: %w", runID, taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrTaskNotRunning, runID, taskID)
	}
	return nil
}

// FailTask transitions a task to failed with the given cause. Tasks that were
// never started (skipped dependents, cancellation before dispatch) get a
// failed row inserted directly so every planned task has a terminal record.
func (c *Client) FailTask(ctx context.Context, runID, taskID, agentID string, durationMS int64, errorMessage string) error {
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, c.rebind(`
		UPDATE worker_runs
		SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?
		WHERE run_id = ? AND task_id = ? AND status = ?`),
		string(models.RunStatusFailed), now, durationMS, errorMessage,
		runID, taskID, string(models.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to fail task %s/%s: %w", runID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fail task %s/%s: %w", runID, taskID, err)
	}
	if n > 0 {
		return nil
	}

	_, err = c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO worker_runs (run_id, task_id, agent_id, status, started_at, completed_at, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task_id) DO NOTHING`),
		runID, taskID, agentID, string(models.RunStatusFailed), now, now, durationMS, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to record failed task %s/%s: %w", runID, taskID, err)
	}
	return nil
}

// StoreOutput inserts the output row for a successful task. Must be called
// after CompleteTask; exactly one output row exists per successful task.
func (c *Client) StoreOutput(ctx context.Context, runID, taskID, agentID string, outputJSON, metadataJSON []byte) error {
	res, err := c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO task_outputs (run_id, task_id, agent_id, output_json, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task_id) DO NOTHING`),
		runID, taskID, agentID, string(outputJSON), string(metadataJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store output %s/%s: %w", runID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to store output %s/%s: %w", runID, taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrOutputExists, runID, taskID)
	}
	return nil
}

// GetOutput returns the stored output JSON for a task, or nil when no output
// exists.
func (c *Client) GetOutput(ctx context.Context, runID, taskID string) ([]byte, error) {
	var out string
	err := c.db.QueryRowContext(ctx, c.rebind(`
		SELECT output_json FROM task_outputs WHERE run_id = ? AND task_id = ?`),
		runID, taskID).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get output %s/%s: %w", runID, taskID, err)
	}
	return []byte(out), nil
}

// GetAllOutputs returns every task output of a run ordered by task id.
func (c *Client) GetAllOutputs(ctx context.Context, runID string) ([]*models.TaskOutput, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT run_id, task_id, agent_id, output_json, metadata_json, created_at
		FROM task_outputs WHERE run_id = ? ORDER BY task_id`),
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outputs for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var outputs []*models.TaskOutput
	for rows.Next() {
		var (
			out      models.TaskOutput
			output   string
			metadata string
		)
		if err := rows.Scan(&out.RunID, &out.TaskID, &out.AgentID, &output, &metadata, &out.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan output row: %w", err)
		}
		out.OutputJSON = []byte(output)
		if metadata != "" {
			out.MetadataJSON = []byte(metadata)
		}
		outputs = append(outputs, &out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outputs for run %s: %w", runID, err)
	}
	return outputs, nil
}

// AreDependenciesComplete reports whether every given task id has status
// success in this run. An empty dependency set is trivially complete.
func (c *Client) AreDependenciesComplete(ctx context.Context, runID string, depIDs []string) (bool, error) {
	if len(depIDs) == 0 {
		return true, nil
	}

	placeholders := make([]string, len(depIDs))
	args := make([]any, 0, len(depIDs)+2)
	args = append(args, runID)
	for i, id := range depIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, string(models.RunStatusSuccess))

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM worker_runs
		WHERE run_id = ? AND task_id IN (%s) AND status = ?`,
		strings.Join(placeholders, ", "))

	var count int
	if err := c.db.QueryRowContext(ctx, c.rebind(query), args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check dependencies for run %s: %w", runID, err)
	}
	return count == len(depIDs), nil
}

// GetWorkerRuns returns every worker run row of a run ordered by task id.
func (c *Client) GetWorkerRuns(ctx context.Context, runID string) ([]*models.WorkerRun, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT run_id, task_id, agent_id, status, started_at, completed_at, duration_ms, error_message, artifact_ref
		FROM worker_runs WHERE run_id = ? ORDER BY task_id`),
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query worker runs for %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.WorkerRun
	for rows.Next() {
		var (
			run       models.WorkerRun
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&run.RunID, &run.TaskID, &run.AgentID, &status, &run.StartedAt,
			&completed, &run.DurationMS, &run.ErrorMessage, &run.ArtifactRef); err != nil {
			return nil, fmt.Errorf("failed to scan worker run row: %w", err)
		}
		run.Status = models.RunStatus(status)
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate worker runs for %s: %w", runID, err)
	}
	return runs, nil
}

// GetRunSummary aggregates worker run rows for one run.
func (c *Client) GetRunSummary(ctx context.Context, runID string) (*models.RunSummary, error) {
	runs, err := c.GetWorkerRuns(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary := &models.RunSummary{Durations: make(map[string]int64)}
	agents := make(map[string]bool)
	for _, run := range runs {
		summary.Total++
		switch run.Status {
		case models.RunStatusSuccess:
			summary.Success++
		case models.RunStatusFailed:
			summary.Failed++
		case models.RunStatusRunning:
			summary.Running++
		}
		if run.AgentID != "" {
			agents[run.AgentID] = true
		}
		summary.Durations[run.TaskID] = run.DurationMS
	}
	for id := range agents {
		summary.AgentsUsed = append(summary.AgentsUsed, id)
	}
	sort.Strings(summary.AgentsUsed)
	return summary, nil
}
