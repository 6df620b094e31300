// Package exec turns enriched path plans into execution plans and drives them
// to completion with dependency-aware parallelism.
package exec

import (
	"github.com/aj002fr/frgpt/pkg/models"
)

// Step is one entry of an execution plan: the task to invoke and the
// predecessor wait point that precedes it. Every step is bracketed by the
// dispatcher with start_task before the invocation and complete_task +
// store_output (or fail_task) after it.
type Step struct {
	Task *models.Subtask `json:"task"`

	// WaitFor lists dependencies that are not earlier steps of the same
	// path; the dispatcher must observe them as success in the task store
	// before starting this step.
	WaitFor []string `json:"wait_for,omitempty"`
}

// ExecutionPlan is the ordered, per-path plan the dispatcher interprets. It
// is pure data; no generated code.
type ExecutionPlan struct {
	Path  []string `json:"path"`
	Steps []*Step  `json:"steps"`
}

// BuildExecutionPlan orders the path's tasks topologically (the path is
// already a topological chain) and computes each step's external wait point.
func BuildExecutionPlan(pp *models.PathPlan) *ExecutionPlan {
	earlier := make(map[string]bool, len(pp.Path))
	plan := &ExecutionPlan{Path: append([]string(nil), pp.Path...)}

	for _, st := range pp.Subtasks {
		var waitFor []string
		for _, dep := range st.Dependencies {
			if !earlier[dep] {
				waitFor = append(waitFor, dep)
			}
		}
		plan.Steps = append(plan.Steps, &Step{Task: st, WaitFor: waitFor})
		earlier[st.TaskID] = true
	}
	return plan
}

// MergePlans folds per-path execution plans into one task set. Paths overlap
// on shared prefixes; the first enrichment of a task wins, later duplicates
// are dropped. Order follows first appearance across plans.
func MergePlans(plans []*ExecutionPlan) []*models.Subtask {
	seen := make(map[string]bool)
	var merged []*models.Subtask
	for _, plan := range plans {
		for _, step := range plan.Steps {
			if !seen[step.Task.TaskID] {
				seen[step.Task.TaskID] = true
				merged = append(merged, step.Task)
			}
		}
	}
	return merged
}
