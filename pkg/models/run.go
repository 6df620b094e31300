package models

import "time"

// RunStatus is the lifecycle state of a worker run record. Transitions are
// monotonic: running → success or running → failed.
type RunStatus string

// Worker run status constants.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// WorkerRun is one row of the worker_runs relation, keyed by
// (run_id, task_id).
type WorkerRun struct {
	RunID        string     `json:"run_id"`
	TaskID       string     `json:"task_id"`
	AgentID      string     `json:"agent_id"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ArtifactRef  string     `json:"artifact_ref,omitempty"`
}

// TaskOutput is one row of the task_outputs relation. Exactly one row exists
// per successful task.
type TaskOutput struct {
	RunID        string    `json:"run_id"`
	TaskID       string    `json:"task_id"`
	AgentID      string    `json:"agent_id"`
	OutputJSON   []byte    `json:"output_json"`
	MetadataJSON []byte    `json:"metadata_json,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunSummary aggregates worker_runs rows for one run.
type RunSummary struct {
	Total      int              `json:"total"`
	Success    int              `json:"success"`
	Failed     int              `json:"failed"`
	Running    int              `json:"running"`
	AgentsUsed []string         `json:"agents_used"`
	Durations  map[string]int64 `json:"durations"`
}
