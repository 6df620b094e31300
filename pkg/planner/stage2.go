package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/aj002fr/frgpt/pkg/extract"
	"github.com/aj002fr/frgpt/pkg/models"
	"github.com/aj002fr/frgpt/pkg/tools"
)

// Stage2 enriches the subtasks of one dependency path with concrete tool
// selections and extracted parameters. Each EnrichPath call loads only the
// tools of the agents on that path and returns subtask copies, so concurrent
// Stage 2 instances never share mutable state.
type Stage2 struct {
	loader     *tools.Loader
	extractors map[string]extract.Extractor // agent id -> extractor
}

// NewStage2 creates the parameter planner. extractors maps agent ids to their
// extractor; agents without an entry use the generic extractor.
func NewStage2(loader *tools.Loader, extractors map[string]extract.Extractor) *Stage2 {
	return &Stage2{loader: loader, extractors: extractors}
}

// EnrichPath selects a tool and extracts parameters for every subtask on the
// path. Extraction and schema failures are not fatal: the subtask is carried
// with best-effort parameters and needs_review set.
func (s *Stage2) EnrichPath(_ context.Context, plan *models.Plan, path []string, sessionID string) (*models.PathPlan, error) {
	agentIDs := make([]string, 0, len(path))
	for _, taskID := range path {
		if st := plan.Subtask(taskID); st != nil && st.AgentID != "" {
			agentIDs = append(agentIDs, st.AgentID)
		}
	}

	// Context isolation point: only this path's agents get their tools
	// loaded here.
	descs, err := s.loader.ToolsFor(agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load tools for path %v: %w", path, err)
	}
	byAgent := make(map[string][]tools.Descriptor)
	for _, d := range descs {
		byAgent[d.AgentID] = append(byAgent[d.AgentID], d)
	}

	enriched := make([]*models.Subtask, 0, len(path))
	for _, taskID := range path {
		st := plan.Subtask(taskID)
		if st == nil {
			return nil, fmt.Errorf("path references unknown task %q", taskID)
		}
		cp := *st
		cp.Dependencies = append([]string(nil), st.Dependencies...)
		if cp.Mappable {
			s.enrich(&cp, byAgent[cp.AgentID], sessionID)
		}
		enriched = append(enriched, &cp)
	}

	return &models.PathPlan{Path: append([]string(nil), path...), Subtasks: enriched}, nil
}

// enrich picks the subtask's tool and fills its parameters in place.
func (s *Stage2) enrich(st *models.Subtask, candidates []tools.Descriptor, sessionID string) {
	log := slog.With("task_id", st.TaskID, "agent_id", st.AgentID)

	var selected *tools.Descriptor
	switch len(candidates) {
	case 0:
		log.Warn("Agent exposes no tools, task needs review")
		st.NeedsReview = true
		return
	case 1:
		selected = &candidates[0]
	default:
		selected = bestTool(st.Description, candidates)
	}
	st.ToolID = selected.ID

	extractor, ok := s.extractors[st.AgentID]
	if !ok {
		extractor = &extract.GenericExtractor{}
	}
	params, err := extractor.Extract(st.Description, sessionID)
	if err != nil {
		log.Warn("Parameter extraction failed, task needs review", "error", err)
		st.NeedsReview = true
		return
	}
	st.Params = params

	if err := tools.ValidateParams(selected, params); err != nil {
		log.Warn("Extracted parameters violate tool schema, task needs review",
			"tool_id", selected.ID, "error", err)
		st.NeedsReview = true
	}
}

// bestTool scores candidates by keyword overlap between the description and
// the tool's schema field names plus its id. Ties keep the first candidate.
func bestTool(description string, candidates []tools.Descriptor) *tools.Descriptor {
	words := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[f] = true
	}

	best := &candidates[0]
	bestScore := -1
	for i := range candidates {
		c := &candidates[i]
		score := 0
		for _, f := range c.Schema {
			if words[strings.ToLower(f.Name)] {
				score++
			}
		}
		for _, part := range strings.FieldsFunc(strings.ToLower(c.ID), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if words[part] {
				score++
			}
		}
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}
