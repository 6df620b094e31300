package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/graph"
	"github.com/aj002fr/frgpt/pkg/models"
)

// DefaultMaxSubtasks bounds decomposition when the caller supplies no limit.
const DefaultMaxSubtasks = 5

// Stage1 turns a query into a validated, agent-mapped DAG. It never guesses
// task parameters; structure and agent binding only.
type Stage1 struct {
	agents       *agent.Registry
	collaborator Collaborator // may be nil: deterministic fallback only
}

// NewStage1 creates the structural planner. collaborator may be nil, in which
// case every plan is the single-task fallback.
func NewStage1(agents *agent.Registry, collaborator Collaborator) *Stage1 {
	return &Stage1{agents: agents, collaborator: collaborator}
}

// BuildPlan decomposes the query, normalizes task ids to t<ordinal> form,
// binds agents, and validates the dependency graph. A cycle or dangling
// dependency fails the plan; an unavailable collaborator falls back to a
// deterministic single-task plan.
func (s *Stage1) BuildPlan(ctx context.Context, runID, query string, maxSubtasks int) (*models.Plan, error) {
	if maxSubtasks <= 0 {
		maxSubtasks = DefaultMaxSubtasks
	}
	log := slog.With("run_id", runID)

	raw, err := s.decompose(ctx, query, maxSubtasks)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxSubtasks {
		log.Warn("Decomposition exceeded max subtasks, truncating",
			"got", len(raw), "max", maxSubtasks)
		raw = raw[:maxSubtasks]
	}

	subtasks := s.normalize(raw)
	s.mapAgents(subtasks, log)

	analyzer, err := graph.New(subtasks)
	if err != nil {
		return nil, err
	}
	analysis, err := analyzer.Analyze()
	if err != nil {
		return nil, err
	}

	log.Info("Plan built",
		"tasks", len(subtasks),
		"parallel_groups", len(analysis.ParallelGroups),
		"paths", len(analysis.DependencyPaths),
		"max_depth", analysis.MaxDepth)

	return &models.Plan{
		RunID:           runID,
		Query:           query,
		Subtasks:        subtasks,
		ParallelGroups:  analysis.ParallelGroups,
		DependencyPaths: analysis.DependencyPaths,
		MaxDepth:        analysis.MaxDepth,
	}, nil
}

// decompose asks the collaborator for raw tasks, falling back to a
// single-task plan covering the whole query when it is unavailable.
func (s *Stage1) decompose(ctx context.Context, query string, maxSubtasks int) ([]RawTask, error) {
	if s.collaborator == nil {
		return []RawTask{{Description: query}}, nil
	}

	raw, err := s.collaborator.Decompose(ctx, query, s.agents.List(), maxSubtasks)
	if err != nil {
		if errors.Is(err, ErrPlannerUnavailable) {
			slog.Warn("Planner collaborator unavailable, using single-task fallback", "error", err)
			return []RawTask{{Description: query}}, nil
		}
		return nil, fmt.Errorf("decomposition failed: %w", err)
	}
	if len(raw) == 0 {
		return []RawTask{{Description: query}}, nil
	}
	return raw, nil
}

// normalize renames tasks to t1, t2, ... preserving decomposition order and
// rewrites suggested dependencies through the rename map. References to
// unknown ids are kept verbatim; the dependency analyzer reports them as
// dangling.
func (s *Stage1) normalize(raw []RawTask) []*models.Subtask {
	rename := make(map[string]string, len(raw))
	for i, rt := range raw {
		normalized := fmt.Sprintf("t%d", i+1)
		if rt.ID != "" {
			rename[rt.ID] = normalized
		}
	}

	subtasks := make([]*models.Subtask, 0, len(raw))
	for i, rt := range raw {
		deps := make([]string, 0, len(rt.SuggestedDependencies))
		for _, dep := range rt.SuggestedDependencies {
			if renamed, ok := rename[dep]; ok {
				deps = append(deps, renamed)
			} else {
				deps = append(deps, dep)
			}
		}
		st := &models.Subtask{
			TaskID:       fmt.Sprintf("t%d", i+1),
			Description:  rt.Description,
			Dependencies: deps,
			Ordinal:      i + 1,
		}
		// A known suggested agent binds directly; unknown suggestions fall
		// through to keyword mapping.
		if rt.SuggestedAgent != "" {
			if _, ok := s.agents.Get(rt.SuggestedAgent); ok {
				st.AgentID = rt.SuggestedAgent
			}
		}
		subtasks = append(subtasks, st)
	}
	return subtasks
}

// mapAgents binds each subtask to an agent: a known suggested agent wins,
// otherwise keyword scoring decides. Zero overlap marks the task unmappable;
// its id stays valid for dependency accounting.
func (s *Stage1) mapAgents(subtasks []*models.Subtask, log *slog.Logger) {
	for _, st := range subtasks {
		if st.AgentID != "" {
			st.Mappable = true
			continue
		}
		id, score := s.agents.Match(st.Description)
		if score == 0 {
			st.Mappable = false
			log.Warn("Task is unmappable, it will be carried but skipped",
				"task_id", st.TaskID, "description", st.Description)
			continue
		}
		st.AgentID = id
		st.Mappable = true
	}
}
