package api

import "github.com/aj002fr/frgpt/pkg/models"

// CreateRunRequest is the POST /api/v1/runs body.
type CreateRunRequest struct {
	Query          string `json:"query" binding:"required"`
	MaxSubtasks    int    `json:"max_subtasks,omitempty"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
	MaxParallel    int    `json:"max_parallel,omitempty"`
	TaskTimeoutMS  int64  `json:"task_timeout_ms,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// RunDetailResponse is the GET /api/v1/runs/:run_id payload.
type RunDetailResponse struct {
	RunID   string               `json:"run_id"`
	Summary *models.RunSummary   `json:"summary"`
	Outputs []*models.TaskOutput `json:"outputs,omitempty"`
}

// AgentResponse is one agent catalog entry.
type AgentResponse struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Tools       []string `json:"tools"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
