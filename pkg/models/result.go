package models

import (
	"encoding/json"
	"time"
)

// ValidationResult is the answer validator's verdict.
type ValidationResult struct {
	Valid             bool     `json:"valid"`
	CompletenessScore float64  `json:"completeness_score"`
	Issues            []string `json:"issues,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
}

// RunMetadata carries run-level accounting returned to the caller.
type RunMetadata struct {
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
	TotalTasks      int       `json:"total_tasks"`
	SuccessfulTasks int       `json:"successful_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
	UnmappableTasks int       `json:"unmappable_tasks"`
	AgentsUsed      []string  `json:"agents_used"`
	ScriptRefs      []string  `json:"script_refs,omitempty"`
}

// RunResult is the consolidated output of one run.
type RunResult struct {
	RunID        string                       `json:"run_id"`
	Query        string                       `json:"query"`
	AnswerText   string                       `json:"answer_text"`
	DataByAgent  map[string][]json.RawMessage `json:"data_by_agent"`
	SummaryStats map[string]map[string]any    `json:"summary_stats"`
	Validation   *ValidationResult            `json:"validation,omitempty"`
	Metadata     RunMetadata                  `json:"metadata"`
}
