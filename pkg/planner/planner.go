// Package planner implements the two-stage query planner. Stage 1 decomposes
// a natural-language query into an agent-mapped, validated DAG of subtasks;
// Stage 2 enriches each dependency path with concrete tool selections and
// extracted parameters under per-path context isolation.
package planner

import (
	"context"
	"errors"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/models"
)

// ErrPlannerUnavailable indicates the LLM collaborator could not serve a
// request. Stage 1 falls back to a deterministic single-task plan; the runner
// falls back to a templated answer.
var ErrPlannerUnavailable = errors.New("planner collaborator unavailable")

// RawTask is one decomposition step returned by the collaborator before
// normalization.
type RawTask struct {
	ID                    string   `json:"id,omitempty"`
	Description           string   `json:"description"`
	SuggestedAgent        string   `json:"suggested_agent,omitempty"`
	SuggestedDependencies []string `json:"suggested_dependencies,omitempty"`
}

// AnswerRequest carries everything the collaborator needs to phrase a final
// answer.
type AnswerRequest struct {
	Query        string
	Outputs      []*models.TaskOutput
	SummaryStats map[string]map[string]any
	Metadata     models.RunMetadata
}

// ValidateRequest carries the produced answer for validation against the
// query and raw outputs.
type ValidateRequest struct {
	Query      string
	AnswerText string
	Outputs    []*models.TaskOutput
}

// Collaborator is the narrow LLM contract the engine consumes. Failures must
// wrap ErrPlannerUnavailable so callers can fall back deterministically.
type Collaborator interface {
	Decompose(ctx context.Context, query string, agents []*agent.Descriptor, maxSubtasks int) ([]RawTask, error)
	Answer(ctx context.Context, req AnswerRequest) (string, error)
	Validate(ctx context.Context, req ValidateRequest) (*models.ValidationResult, error)
}
