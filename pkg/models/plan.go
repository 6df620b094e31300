// Package models defines the core data model shared across the planning and
// execution pipeline: subtasks, plans, run records, task outputs, and the
// consolidated run result.
package models

// Subtask is a single unit of work produced by Stage 1 planning and enriched
// by Stage 2. Task IDs are normalized to t<ordinal> form in decomposition
// order.
type Subtask struct {
	TaskID       string         `json:"task_id"`
	Description  string         `json:"description"`
	AgentID      string         `json:"agent_id,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	ToolID       string         `json:"tool_id,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Mappable     bool           `json:"mappable"`

	// NeedsReview is set by Stage 2 when parameter extraction or schema
	// validation produced a best-effort result. The executor still attempts
	// the task.
	NeedsReview bool `json:"needs_review,omitempty"`

	// Ordinal is the Stage-1 decomposition position (1-based). Used for
	// stable ordering inside parallel groups.
	Ordinal int `json:"-"`
}

// Plan is the Stage 1 output: a validated, agent-mapped DAG of subtasks plus
// the structural information derived from it.
type Plan struct {
	RunID           string     `json:"run_id"`
	Query           string     `json:"query"`
	Subtasks        []*Subtask `json:"subtasks"`
	ParallelGroups  [][]string `json:"parallel_groups"`
	DependencyPaths [][]string `json:"dependency_paths"`
	MaxDepth        int        `json:"max_depth"`
}

// Subtask returns the subtask with the given ID, or nil.
func (p *Plan) Subtask(taskID string) *Subtask {
	for _, st := range p.Subtasks {
		if st.TaskID == taskID {
			return st
		}
	}
	return nil
}

// PathPlan is the Stage 2 output for one dependency path: the path's task IDs
// in topological order together with their tool- and parameter-enriched
// subtasks.
type PathPlan struct {
	Path     []string   `json:"path"`
	Subtasks []*Subtask `json:"subtasks"`
}
