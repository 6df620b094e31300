package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/aj002fr/frgpt/pkg/artifact"
	"github.com/aj002fr/frgpt/pkg/models"
	"github.com/aj002fr/frgpt/pkg/tools"
)

// Default scheduling parameters.
const (
	DefaultTaskTimeout            = 2 * time.Minute
	DefaultDependencyPollInterval = 200 * time.Millisecond
	DefaultDependencyWaitTimeout  = 5 * time.Minute
)

// Store is the subset of the task store the dispatcher writes through.
type Store interface {
	StartTask(ctx context.Context, runID, taskID, agentID string, startedAt time.Time) error
	CompleteTask(ctx context.Context, runID, taskID string, durationMS int64, artifactRef string) error
	FailTask(ctx context.Context, runID, taskID, agentID string, durationMS int64, errorMessage string) error
	StoreOutput(ctx context.Context, runID, taskID, agentID string, outputJSON, metadataJSON []byte) error
	AreDependenciesComplete(ctx context.Context, runID string, depIDs []string) (bool, error)
}

// Bus is the subset of the artifact bus the dispatcher publishes through.
type Bus interface {
	Publish(agentID string, payload *artifact.Payload) (string, error)
}

// Invoker dispatches one tool call. Satisfied by *tools.Loader.
type Invoker interface {
	Invoke(ctx context.Context, toolID string, call tools.Call) (*tools.Result, error)
}

// Config tunes the dispatcher.
type Config struct {
	// MaxParallel bounds concurrently executing tasks. Zero means number of
	// CPU cores, minimum 2.
	MaxParallel int

	// TaskTimeout is the per-task wall-clock budget.
	TaskTimeout time.Duration

	// DependencyPollInterval is the task store poll cadence while waiting
	// on predecessors.
	DependencyPollInterval time.Duration

	// DependencyWaitTimeout bounds how long a task may wait for its
	// predecessors before failing.
	DependencyWaitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = runtime.NumCPU()
	}
	if c.MaxParallel < 2 {
		c.MaxParallel = 2
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.DependencyPollInterval <= 0 {
		c.DependencyPollInterval = DefaultDependencyPollInterval
	}
	if c.DependencyWaitTimeout <= 0 {
		c.DependencyWaitTimeout = DefaultDependencyWaitTimeout
	}
	return c
}

// Report is the dispatcher's accounting of one run.
type Report struct {
	Successful      []string
	Failed          []string // includes upstream skips, timeouts, cancellations
	SkippedUpstream []string // subset of Failed
	Unmappable      []string
	AgentsUsed      []string
}

// Dispatcher drives merged execution plans to completion. One dispatcher
// instance serves one run at a time.
type Dispatcher struct {
	store   Store
	bus     Bus
	invoker Invoker
	cfg     Config
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(store Store, bus Bus, invoker Invoker, cfg Config) *Dispatcher {
	return &Dispatcher{store: store, bus: bus, invoker: invoker, cfg: cfg.withDefaults()}
}

// taskResult is delivered on the results channel when an invocation ends.
type taskResult struct {
	task     *models.Subtask
	output   *tools.Result
	err      error
	duration time.Duration
	timedOut bool
}

// Run executes the merged task set of all path plans. It returns a Report
// unless the task store itself fails, which aborts the run.
func (d *Dispatcher) Run(ctx context.Context, plan *models.Plan, execPlans []*ExecutionPlan, sessionID string) (*Report, error) {
	tasks := MergePlans(execPlans)
	log := slog.With("run_id", plan.RunID)

	report := &Report{}
	agentsUsed := make(map[string]bool)

	pending := make(map[string]*models.Subtask)
	var order []string
	for _, st := range tasks {
		if !st.Mappable {
			report.Unmappable = append(report.Unmappable, st.TaskID)
			continue
		}
		pending[st.TaskID] = st
		order = append(order, st.TaskID)
	}

	// Cancellation before execution: every planned task is recorded as
	// failed, nothing is invoked, no artifacts are written.
	if err := ctx.Err(); err != nil {
		for _, taskID := range order {
			st := pending[taskID]
			if ferr := d.store.FailTask(context.WithoutCancel(ctx), plan.RunID, st.TaskID, st.AgentID, 0, "cancelled"); ferr != nil {
				return nil, fmt.Errorf("task store failure during cancellation: %w", ferr)
			}
			report.Failed = append(report.Failed, st.TaskID)
		}
		sortReport(report)
		return report, nil
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	waitSince := make(map[string]time.Time)
	inFlight := make(map[string]bool)

	results := make(chan *taskResult, len(order))
	ticker := time.NewTicker(d.cfg.DependencyPollInterval)
	defer ticker.Stop()

	cancelled := false
	done := ctx.Done()

	for len(pending) > 0 || len(inFlight) > 0 {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}

		if cancelled {
			// In-flight invocations observe ctx and drain through results;
			// everything still pending is recorded as cancelled.
			for taskID, st := range pending {
				if err := d.store.FailTask(context.WithoutCancel(ctx), plan.RunID, st.TaskID, st.AgentID, 0, "cancelled"); err != nil {
					return nil, fmt.Errorf("task store failure during cancellation: %w", err)
				}
				report.Failed = append(report.Failed, st.TaskID)
				delete(pending, taskID)
			}
		} else {
			// Skip every pending task with a failed predecessor, repeating
			// until the failure has propagated through the graph.
			for propagated := true; propagated; {
				propagated = false
				for taskID, st := range pending {
					upstream := failedDependency(st, failed)
					if upstream == "" {
						continue
					}
					cause := fmt.Sprintf("upstream failure: %s", upstream)
					if err := d.store.FailTask(ctx, plan.RunID, st.TaskID, st.AgentID, 0, cause); err != nil {
						return nil, fmt.Errorf("task store failure while skipping %s: %w", taskID, err)
					}
					log.Info("Task skipped", "task_id", taskID, "cause", cause)
					failed[taskID] = true
					report.Failed = append(report.Failed, taskID)
					report.SkippedUpstream = append(report.SkippedUpstream, taskID)
					delete(pending, taskID)
					propagated = true
				}
			}

			// Dispatch every ready task while slots are free, in merged-plan
			// order (first appearance across paths) for reproducible runs.
			for _, taskID := range order {
				st, ok := pending[taskID]
				if !ok || len(inFlight) >= d.cfg.MaxParallel {
					continue
				}
				if _, seen := waitSince[taskID]; !seen {
					waitSince[taskID] = time.Now()
				}
				if !depsDone(st, completed) {
					if dep := unsatisfiableDependency(st, pending, inFlight, completed); dep != "" {
						// The dependency is unmappable or otherwise gone: it
						// can never complete, so the dependent is skipped.
						cause := fmt.Sprintf("upstream failure: %s", dep)
						if err := d.store.FailTask(ctx, plan.RunID, st.TaskID, st.AgentID, 0, cause); err != nil {
							return nil, fmt.Errorf("task store failure while skipping %s: %w", taskID, err)
						}
						failed[taskID] = true
						report.Failed = append(report.Failed, taskID)
						report.SkippedUpstream = append(report.SkippedUpstream, taskID)
						delete(pending, taskID)
						continue
					}
					if time.Since(waitSince[taskID]) > d.cfg.DependencyWaitTimeout {
						if err := d.failDependencyWait(ctx, plan.RunID, st); err != nil {
							return nil, err
						}
						failed[taskID] = true
						report.Failed = append(report.Failed, taskID)
						delete(pending, taskID)
					}
					continue
				}

				// The in-memory view says go; the task store is the source
				// of truth shared with any co-executors on this run id.
				ok, err := d.store.AreDependenciesComplete(ctx, plan.RunID, st.Dependencies)
				if err != nil {
					return nil, fmt.Errorf("task store failure checking dependencies of %s: %w", taskID, err)
				}
				if !ok {
					if time.Since(waitSince[taskID]) > d.cfg.DependencyWaitTimeout {
						if err := d.failDependencyWait(ctx, plan.RunID, st); err != nil {
							return nil, err
						}
						failed[taskID] = true
						report.Failed = append(report.Failed, taskID)
						delete(pending, taskID)
					}
					continue
				}

				if err := d.store.StartTask(ctx, plan.RunID, st.TaskID, st.AgentID, time.Now()); err != nil {
					return nil, fmt.Errorf("task store failure starting %s: %w", taskID, err)
				}
				log.Info("Task started", "task_id", taskID, "agent_id", st.AgentID, "tool_id", st.ToolID)
				inFlight[taskID] = true
				delete(pending, taskID)
				go d.invoke(ctx, plan, st, sessionID, results)
			}
		}

		if len(pending) == 0 && len(inFlight) == 0 {
			break
		}

		select {
		case res := <-results:
			delete(inFlight, res.task.TaskID)
			outcome, err := d.record(ctx, plan, res)
			if err != nil {
				return nil, err
			}
			if outcome {
				completed[res.task.TaskID] = true
				report.Successful = append(report.Successful, res.task.TaskID)
				agentsUsed[res.task.AgentID] = true
			} else {
				failed[res.task.TaskID] = true
				report.Failed = append(report.Failed, res.task.TaskID)
				agentsUsed[res.task.AgentID] = true
			}
		case <-ticker.C:
		case <-done:
			// Fires once; subsequent iterations drain in-flight results.
			done = nil
		}
	}

	for id := range agentsUsed {
		report.AgentsUsed = append(report.AgentsUsed, id)
	}
	sortReport(report)

	log.Info("Dispatch finished",
		"successful", len(report.Successful),
		"failed", len(report.Failed),
		"skipped_upstream", len(report.SkippedUpstream),
		"unmappable", len(report.Unmappable))
	return report, nil
}

// invoke runs one agent invocation under the per-task timeout and delivers
// the outcome on the results channel.
func (d *Dispatcher) invoke(ctx context.Context, plan *models.Plan, st *models.Subtask, sessionID string, results chan<- *taskResult) {
	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	started := time.Now()
	output, err := d.invoker.Invoke(taskCtx, st.ToolID, tools.Call{
		Params:    st.Params,
		RunID:     plan.RunID,
		TaskID:    st.TaskID,
		SessionID: sessionID,
	})

	results <- &taskResult{
		task:     st,
		output:   output,
		err:      err,
		duration: time.Since(started),
		timedOut: errors.Is(taskCtx.Err(), context.DeadlineExceeded),
	}
}

// record persists a finished invocation: on success the artifact is published
// first, then complete_task and store_output; on failure fail_task with the
// classified cause. Returns true when the task succeeded. Store failures
// abort the run.
func (d *Dispatcher) record(ctx context.Context, plan *models.Plan, res *taskResult) (bool, error) {
	// Persist outcomes even while the run context is being cancelled.
	writeCtx := context.WithoutCancel(ctx)
	st := res.task
	durationMS := res.duration.Milliseconds()
	log := slog.With("run_id", plan.RunID, "task_id", st.TaskID)

	if res.err != nil {
		cause := res.err.Error()
		switch {
		case res.timedOut:
			cause = "timeout"
		case errors.Is(res.err, context.Canceled) || ctx.Err() != nil:
			cause = "cancelled"
		}
		log.Warn("Task failed", "cause", cause, "duration_ms", durationMS)
		if err := d.store.FailTask(writeCtx, plan.RunID, st.TaskID, st.AgentID, durationMS, cause); err != nil {
			return false, fmt.Errorf("task store failure failing %s: %w", st.TaskID, err)
		}
		return false, nil
	}

	payload := &artifact.Payload{
		Data:     res.output.Data,
		Metadata: artifact.NewMetadata(st.AgentID, plan.Query, len(res.output.Data)),
	}
	ref, err := d.bus.Publish(st.AgentID, payload)
	if err != nil {
		cause := fmt.Sprintf("artifact publish failed: %v", err)
		log.Error("Artifact publish failed", "error", err)
		if ferr := d.store.FailTask(writeCtx, plan.RunID, st.TaskID, st.AgentID, durationMS, cause); ferr != nil {
			return false, fmt.Errorf("task store failure failing %s: %w", st.TaskID, ferr)
		}
		return false, nil
	}

	if err := d.store.CompleteTask(writeCtx, plan.RunID, st.TaskID, durationMS, ref); err != nil {
		return false, fmt.Errorf("task store failure completing %s: %w", st.TaskID, err)
	}

	outputJSON, metadataJSON, err := encodePayload(payload, res.output.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode output of %s: %w", st.TaskID, err)
	}
	if err := d.store.StoreOutput(writeCtx, plan.RunID, st.TaskID, st.AgentID, outputJSON, metadataJSON); err != nil {
		return false, fmt.Errorf("task store failure storing output of %s: %w", st.TaskID, err)
	}

	log.Info("Task completed", "duration_ms", durationMS, "rows", len(res.output.Data), "artifact_ref", ref)
	return true, nil
}

func (d *Dispatcher) failDependencyWait(ctx context.Context, runID string, st *models.Subtask) error {
	if err := d.store.FailTask(ctx, runID, st.TaskID, st.AgentID, 0, "dependency wait timeout"); err != nil {
		return fmt.Errorf("task store failure failing %s: %w", st.TaskID, err)
	}
	return nil
}

// failedDependency returns the first direct dependency of st that failed.
func failedDependency(st *models.Subtask, failed map[string]bool) string {
	for _, dep := range st.Dependencies {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func depsDone(st *models.Subtask, completed map[string]bool) bool {
	for _, dep := range st.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// unsatisfiableDependency returns a dependency that can never complete: one
// that is neither completed, pending, nor in flight (e.g. an unmappable
// task). Failed dependencies are handled by the skip pass before dispatch.
func unsatisfiableDependency(st *models.Subtask, pending map[string]*models.Subtask, inFlight, completed map[string]bool) string {
	for _, dep := range st.Dependencies {
		if completed[dep] || inFlight[dep] {
			continue
		}
		if _, ok := pending[dep]; ok {
			continue
		}
		return dep
	}
	return ""
}

// encodePayload serializes the canonical artifact document and the agent's
// free-form metadata for the task store.
func encodePayload(payload *artifact.Payload, agentMeta map[string]any) (outputJSON, metadataJSON []byte, err error) {
	outputJSON, err = json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	if agentMeta == nil {
		agentMeta = map[string]any{}
	}
	metadataJSON, err = json.Marshal(agentMeta)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return outputJSON, metadataJSON, nil
}

func sortReport(r *Report) {
	sort.Strings(r.Successful)
	sort.Strings(r.Failed)
	sort.Strings(r.SkippedUpstream)
	sort.Strings(r.Unmappable)
	sort.Strings(r.AgentsUsed)
}
