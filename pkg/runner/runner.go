// Package runner consolidates recorded task outputs into the final run
// result: data bucketed by agent, summary statistics, a natural-language
// answer, and an optional validation verdict.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aj002fr/frgpt/pkg/models"
	"github.com/aj002fr/frgpt/pkg/planner"
)

// Store is the subset of the task store the runner reads from.
type Store interface {
	GetAllOutputs(ctx context.Context, runID string) ([]*models.TaskOutput, error)
}

// Runner builds the consolidated result. The collaborator is optional; when
// absent (or unavailable) the answer is templated deterministically and
// validation falls back to run accounting.
type Runner struct {
	store        Store
	collaborator planner.Collaborator
}

// New creates a runner. collaborator may be nil.
func New(store Store, collaborator planner.Collaborator) *Runner {
	return &Runner{store: store, collaborator: collaborator}
}

// Consolidate reads every task output of the run, merges by agent, computes
// summary statistics, produces the answer text, and validates it unless
// skipped.
func (r *Runner) Consolidate(ctx context.Context, plan *models.Plan, meta models.RunMetadata, skipValidation bool) (*models.RunResult, error) {
	outputs, err := r.store.GetAllOutputs(ctx, plan.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to read outputs for run %s: %w", plan.RunID, err)
	}

	dataByAgent := make(map[string][]json.RawMessage)
	rowsByAgent := make(map[string][][]map[string]any)
	for _, out := range outputs {
		dataByAgent[out.AgentID] = append(dataByAgent[out.AgentID], json.RawMessage(out.OutputJSON))

		var doc struct {
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal(out.OutputJSON, &doc); err != nil {
			slog.Warn("Undecodable task output, excluded from stats",
				"run_id", plan.RunID, "task_id", out.TaskID, "error", err)
			continue
		}
		rowsByAgent[out.AgentID] = append(rowsByAgent[out.AgentID], doc.Data)
	}

	stats := summaryStats(rowsByAgent)

	answer := r.answer(ctx, plan, outputs, stats, meta)

	result := &models.RunResult{
		RunID:        plan.RunID,
		Query:        plan.Query,
		AnswerText:   answer,
		DataByAgent:  dataByAgent,
		SummaryStats: stats,
		Metadata:     meta,
	}

	if !skipValidation {
		result.Validation = r.validate(ctx, plan, answer, outputs, meta)
	}
	return result, nil
}

// answer asks the collaborator for a natural-language answer, falling back to
// a deterministic template per agent.
func (r *Runner) answer(ctx context.Context, plan *models.Plan, outputs []*models.TaskOutput, stats map[string]map[string]any, meta models.RunMetadata) string {
	if r.collaborator != nil {
		answer, err := r.collaborator.Answer(ctx, planner.AnswerRequest{
			Query:        plan.Query,
			Outputs:      outputs,
			SummaryStats: stats,
			Metadata:     meta,
		})
		if err == nil {
			return answer
		}
		if !errors.Is(err, planner.ErrPlannerUnavailable) {
			slog.Warn("Answer generation failed, using templated answer", "run_id", plan.RunID, "error", err)
		}
	}
	return templatedAnswer(plan.Query, stats, meta)
}

// validate asks the collaborator for a verdict, falling back to run
// accounting: a run with failures is not valid.
func (r *Runner) validate(ctx context.Context, plan *models.Plan, answer string, outputs []*models.TaskOutput, meta models.RunMetadata) *models.ValidationResult {
	if r.collaborator != nil {
		verdict, err := r.collaborator.Validate(ctx, planner.ValidateRequest{
			Query:      plan.Query,
			AnswerText: answer,
			Outputs:    outputs,
		})
		if err == nil {
			if meta.FailedTasks > 0 {
				verdict.Valid = false
				verdict.Issues = append(verdict.Issues,
					fmt.Sprintf("%d of %d tasks failed", meta.FailedTasks, meta.TotalTasks))
			}
			return verdict
		}
		if !errors.Is(err, planner.ErrPlannerUnavailable) {
			slog.Warn("Validation failed, using run accounting", "run_id", plan.RunID, "error", err)
		}
	}

	verdict := &models.ValidationResult{Valid: meta.FailedTasks == 0 && meta.TotalTasks > 0}
	if meta.TotalTasks > 0 {
		verdict.CompletenessScore = float64(meta.SuccessfulTasks) / float64(meta.TotalTasks)
	}
	if meta.FailedTasks > 0 {
		verdict.Issues = append(verdict.Issues,
			fmt.Sprintf("%d of %d tasks failed", meta.FailedTasks, meta.TotalTasks))
	}
	if meta.UnmappableTasks > 0 {
		verdict.Issues = append(verdict.Issues,
			fmt.Sprintf("%d tasks could not be mapped to an agent", meta.UnmappableTasks))
	}
	return verdict
}

// templatedAnswer synthesizes one bullet per agent from the summary stats.
func templatedAnswer(query string, stats map[string]map[string]any, meta models.RunMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Results for: %s\n", query)

	if len(stats) == 0 {
		b.WriteString("No task produced data.")
		if meta.FailedTasks > 0 {
			fmt.Fprintf(&b, " %d tasks failed.", meta.FailedTasks)
		}
		return b.String()
	}

	agents := make([]string, 0, len(stats))
	for id := range stats {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	for _, id := range agents {
		s := stats[id]
		fmt.Fprintf(&b, "- %s: %v rows across %v tasks", id, s["row_count"], s["task_count"])
		var extras []string
		for _, key := range sortedKeys(s) {
			if key == "row_count" || key == "task_count" {
				continue
			}
			extras = append(extras, fmt.Sprintf("%s=%v", key, s[key]))
		}
		if len(extras) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
		}
		b.WriteString("\n")
	}
	if meta.FailedTasks > 0 {
		fmt.Fprintf(&b, "Partial result: %d of %d tasks failed.", meta.FailedTasks, meta.TotalTasks)
	}
	return strings.TrimRight(b.String(), "\n")
}

// summaryStats computes per-agent row counts plus min/max/avg of every
// numeric column, and the prediction-market aggregates when their fields are
// present.
func summaryStats(rowsByAgent map[string][][]map[string]any) map[string]map[string]any {
	stats := make(map[string]map[string]any, len(rowsByAgent))
	for agentID, taskRows := range rowsByAgent {
		rowCount := 0
		numeric := make(map[string]*numericAgg)
		for _, rows := range taskRows {
			rowCount += len(rows)
			for _, row := range rows {
				for field, value := range row {
					n, ok := asFloat(value)
					if !ok {
						continue
					}
					agg, exists := numeric[field]
					if !exists {
						agg = &numericAgg{min: n, max: n}
						numeric[field] = agg
					}
					agg.observe(n)
				}
			}
		}

		s := map[string]any{
			"task_count": len(taskRows),
			"row_count":  rowCount,
		}
		for field, agg := range numeric {
			s[field+"_min"] = agg.min
			s[field+"_max"] = agg.max
			s[field+"_avg"] = agg.avg()
		}
		if agg, ok := numeric["probability"]; ok {
			s["avg_probability"] = agg.avg()
		}
		if agg, ok := numeric["volume"]; ok {
			s["total_volume"] = agg.sum
		}
		stats[agentID] = s
	}
	return stats
}

type numericAgg struct {
	min, max, sum float64
	count         int
}

func (a *numericAgg) observe(n float64) {
	if n < a.min {
		a.min = n
	}
	if n > a.max {
		a.max = n
	}
	a.sum += n
	a.count++
}

func (a *numericAgg) avg() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
