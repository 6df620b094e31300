// Package engine exposes the run entry point: two-stage planning, DAG
// execution with dual persistence, and result consolidation, all behind a
// single Run call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/artifact"
	"github.com/aj002fr/frgpt/pkg/config"
	"github.com/aj002fr/frgpt/pkg/exec"
	"github.com/aj002fr/frgpt/pkg/models"
	"github.com/aj002fr/frgpt/pkg/planner"
	"github.com/aj002fr/frgpt/pkg/runner"
	"github.com/aj002fr/frgpt/pkg/session"
	"github.com/aj002fr/frgpt/pkg/store"
	"github.com/aj002fr/frgpt/pkg/tools"
)

// ErrEmptyQuery indicates Run was called without a query.
var ErrEmptyQuery = errors.New("query must not be empty")

// plannerLogAgent is the pseudo-agent the serialized execution plans are
// logged under on the artifact bus.
const plannerLogAgent = "orchestrator"

// Options tunes a single run. Zero values fall back to configuration.
type Options struct {
	MaxSubtasks    int
	SkipValidation bool
	MaxParallel    int
	TaskTimeoutMS  int64
	SessionID      string // generated when empty
}

// Engine orchestrates one query end to end. An instance serves one run at a
// time; concurrent runs need separate run ids and contend only on the task
// store.
type Engine struct {
	cfg    *config.Config
	agents *agent.Registry
	store  *store.Client
	bus    *artifact.Bus
	loader *tools.Loader

	stage1 *planner.Stage1
	stage2 *planner.Stage2
	runner *runner.Runner

	mu sync.Mutex
}

// New wires the engine from its collaborators. collaborator may be nil: the
// engine then plans with the deterministic fallback and answers from the
// template.
func New(cfg *config.Config, agents *agent.Registry, storeClient *store.Client, bus *artifact.Bus, loader *tools.Loader, collaborator planner.Collaborator) *Engine {
	return &Engine{
		cfg:    cfg,
		agents: agents,
		store:  storeClient,
		bus:    bus,
		loader: loader,
		stage1: planner.NewStage1(agents, collaborator),
		stage2: planner.NewStage2(loader, cfg.Extractors()),
		runner: runner.New(storeClient, collaborator),
	}
}

// Run executes one query: Stage 1 planning, per-path Stage 2 enrichment,
// dependency-aware execution, and consolidation. Infrastructure failures
// return an error; task-level failures are contained in the result.
func (e *Engine) Run(ctx context.Context, query string, opts Options) (*models.RunResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	runID := session.NewRunID()
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}
	started := time.Now()
	log := slog.With("run_id", runID)
	log.Info("Run started", "query", query, "session_id", sessionID)

	maxSubtasks := opts.MaxSubtasks
	if maxSubtasks <= 0 {
		maxSubtasks = e.cfg.Engine.MaxSubtasks
	}

	plan, err := e.stage1.BuildPlan(ctx, runID, query, maxSubtasks)
	if err != nil {
		return nil, fmt.Errorf("stage 1 planning failed: %w", err)
	}

	pathPlans, err := e.enrichPaths(ctx, plan, sessionID)
	if err != nil {
		return nil, fmt.Errorf("stage 2 planning failed: %w", err)
	}

	execPlans := make([]*exec.ExecutionPlan, 0, len(pathPlans))
	for _, pp := range pathPlans {
		execPlans = append(execPlans, exec.BuildExecutionPlan(pp))
	}

	scriptRef, err := e.bus.WriteRunLog(plannerLogAgent, runID, execPlans)
	if err != nil {
		log.Warn("Failed to persist execution plans", "error", err)
		scriptRef = ""
	}

	dispatcher := exec.NewDispatcher(e.store, e.bus, e.loader, exec.Config{
		MaxParallel:            pickInt(opts.MaxParallel, e.cfg.Engine.MaxParallel),
		TaskTimeout:            pickDuration(time.Duration(opts.TaskTimeoutMS)*time.Millisecond, e.cfg.Engine.TaskTimeoutD),
		DependencyPollInterval: e.cfg.Engine.DependencyPollIntervalD,
		DependencyWaitTimeout:  e.cfg.Engine.DependencyWaitTimeoutD,
	})

	report, err := dispatcher.Run(ctx, plan, execPlans, sessionID)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	meta := models.RunMetadata{
		StartedAt:       started.UTC(),
		DurationMS:      time.Since(started).Milliseconds(),
		TotalTasks:      len(plan.Subtasks),
		SuccessfulTasks: len(report.Successful),
		FailedTasks:     len(report.Failed),
		UnmappableTasks: len(report.Unmappable),
		AgentsUsed:      report.AgentsUsed,
	}
	if scriptRef != "" {
		meta.ScriptRefs = []string{scriptRef}
	}

	// Consolidation must also run for cancelled runs so recorded outputs are
	// returned.
	consolidateCtx := context.WithoutCancel(ctx)
	skipValidation := opts.SkipValidation || e.cfg.Engine.SkipValidation
	result, err := e.runner.Consolidate(consolidateCtx, plan, meta, skipValidation)
	if err != nil {
		return nil, fmt.Errorf("consolidation failed: %w", err)
	}

	e.writeAgentLogs(consolidateCtx, runID, log)

	log.Info("Run finished",
		"duration_ms", meta.DurationMS,
		"successful", meta.SuccessfulTasks,
		"failed", meta.FailedTasks,
		"unmappable", meta.UnmappableTasks)
	return result, nil
}

// enrichPaths runs one Stage 2 instance per dependency path, concurrently.
// Path order is preserved in the result.
func (e *Engine) enrichPaths(ctx context.Context, plan *models.Plan, sessionID string) ([]*models.PathPlan, error) {
	pathPlans := make([]*models.PathPlan, len(plan.DependencyPaths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range plan.DependencyPaths {
		g.Go(func() error {
			pp, err := e.stage2.EnrichPath(gctx, plan, path, sessionID)
			if err != nil {
				return err
			}
			pathPlans[i] = pp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pathPlans, nil
}

// writeAgentLogs records per-agent task status logs for the run on the
// artifact bus.
func (e *Engine) writeAgentLogs(ctx context.Context, runID string, log *slog.Logger) {
	runs, err := e.store.GetWorkerRuns(ctx, runID)
	if err != nil {
		log.Warn("Failed to read worker runs for agent logs", "error", err)
		return
	}
	byAgent := make(map[string][]*models.WorkerRun)
	for _, run := range runs {
		if run.AgentID == "" {
			continue
		}
		byAgent[run.AgentID] = append(byAgent[run.AgentID], run)
	}
	for agentID, agentRuns := range byAgent {
		if _, err := e.bus.WriteRunLog(agentID, runID, agentRuns); err != nil {
			log.Warn("Failed to write agent run log", "agent_id", agentID, "error", err)
		}
	}
}

func pickInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

func pickDuration(override, fallback time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return fallback
}
