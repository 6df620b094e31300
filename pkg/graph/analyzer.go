// Package graph validates subtask dependency graphs and derives the
// structural information the scheduler needs: topological layers, leaf-to-root
// dependency paths, and transitive ancestor sets.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aj002fr/frgpt/pkg/models"
)

// InvalidPlanError reports a structural defect in a task graph: a dependency
// cycle, a dangling dependency reference, or an empty plan.
type InvalidPlanError struct {
	Cycle    []string // cycle path, when a cycle was found
	Dangling string   // referenced task_id that does not exist
	Reason   string
}

func (e *InvalidPlanError) Error() string {
	switch {
	case len(e.Cycle) > 0:
		return fmt.Sprintf("invalid plan: dependency cycle %s", strings.Join(e.Cycle, " -> "))
	case e.Dangling != "":
		return fmt.Sprintf("invalid plan: dangling dependency %q", e.Dangling)
	default:
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
}

// AnalysisResult is the structural summary of a valid DAG.
type AnalysisResult struct {
	ParallelGroups  [][]string `json:"parallel_groups"`
	DependencyPaths [][]string `json:"dependency_paths"`
	MaxDepth        int        `json:"max_depth"`
}

// Analyzer holds a validated task graph. Construction fails if a dependency
// references an unknown task; cycle detection happens in Analyze.
type Analyzer struct {
	tasks   []*models.Subtask
	byID    map[string]*models.Subtask
	deps    map[string][]string // task -> direct dependencies
	succs   map[string][]string // task -> direct successors
	ordinal map[string]int
}

// New builds an Analyzer over the given subtasks. Returns InvalidPlanError
// when the plan is empty or a dependency references a task that is not in the
// plan.
func New(subtasks []*models.Subtask) (*Analyzer, error) {
	if len(subtasks) == 0 {
		return nil, &InvalidPlanError{Reason: "empty plan"}
	}

	a := &Analyzer{
		tasks:   subtasks,
		byID:    make(map[string]*models.Subtask, len(subtasks)),
		deps:    make(map[string][]string, len(subtasks)),
		succs:   make(map[string][]string, len(subtasks)),
		ordinal: make(map[string]int, len(subtasks)),
	}
	for i, st := range subtasks {
		if _, dup := a.byID[st.TaskID]; dup {
			return nil, &InvalidPlanError{Reason: fmt.Sprintf("duplicate task id %q", st.TaskID)}
		}
		a.byID[st.TaskID] = st
		a.ordinal[st.TaskID] = i
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if _, ok := a.byID[dep]; !ok {
				return nil, &InvalidPlanError{Dangling: dep}
			}
			a.deps[st.TaskID] = append(a.deps[st.TaskID], dep)
			a.succs[dep] = append(a.succs[dep], st.TaskID)
		}
	}
	return a, nil
}

// Analyze runs cycle detection, computes topological layers with Kahn's
// algorithm, and enumerates leaf-to-root dependency paths. Ordering is stable:
// within a layer, tasks keep their Stage-1 ordinal order.
func (a *Analyzer) Analyze() (*AnalysisResult, error) {
	if cycle := a.findCycle(); cycle != nil {
		return nil, &InvalidPlanError{Cycle: cycle}
	}

	groups := a.parallelGroups()
	paths := a.dependencyPaths()

	return &AnalysisResult{
		ParallelGroups:  groups,
		DependencyPaths: paths,
		MaxDepth:        len(groups),
	}, nil
}

// TransitiveDeps returns all ancestors of the given task, i.e. every task that
// must complete before it may start. The result is ordered by Stage-1 ordinal.
func (a *Analyzer) TransitiveDeps(taskID string) []string {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		for _, dep := range a.deps[id] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(taskID)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return a.ordinal[out[i]] < a.ordinal[out[j]] })
	return out
}

// Ready reports whether every direct dependency of taskID is in the completed
// set.
func (a *Analyzer) Ready(taskID string, completed map[string]bool) bool {
	for _, dep := range a.deps[taskID] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Dependencies returns the direct dependencies of taskID.
func (a *Analyzer) Dependencies(taskID string) []string {
	return a.deps[taskID]
}

// findCycle runs a three-color depth-first traversal. It returns the cycle
// path (first node repeated at the end) when a back edge is found, nil
// otherwise. Traversal follows dependency edges (task -> its dependencies).
func (a *Analyzer) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	color := make(map[string]int, len(a.tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range a.deps[id] {
			switch color[dep] {
			case gray:
				// Back edge: slice the current stack from the first
				// occurrence of dep and close the loop.
				for i, v := range stack {
					if v == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
				return []string{dep, id, dep}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, st := range a.tasks {
		if color[st.TaskID] == white {
			if cycle := visit(st.TaskID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// parallelGroups layers the DAG with Kahn's algorithm: layer 0 holds all tasks
// with no dependencies, layer i holds tasks whose deepest dependency is in
// layer i-1.
func (a *Analyzer) parallelGroups() [][]string {
	indegree := make(map[string]int, len(a.tasks))
	for _, st := range a.tasks {
		indegree[st.TaskID] = len(a.deps[st.TaskID])
	}

	remaining := len(a.tasks)
	var groups [][]string
	for remaining > 0 {
		var layer []string
		for _, st := range a.tasks { // slice order == ordinal order
			if deg, ok := indegree[st.TaskID]; ok && deg == 0 {
				layer = append(layer, st.TaskID)
			}
		}
		if len(layer) == 0 {
			// Unreachable after findCycle, kept as a guard against
			// inconsistent state.
			break
		}
		for _, id := range layer {
			delete(indegree, id)
			for _, succ := range a.succs[id] {
				if _, ok := indegree[succ]; ok {
					indegree[succ]--
				}
			}
		}
		remaining -= len(layer)
		groups = append(groups, layer)
	}
	return groups
}

// dependencyPaths enumerates, for every sink, all simple source-to-sink paths.
// Paths are returned in discovery order (sinks by ordinal, branches by
// dependency declaration order) and deduplicated. They may overlap; each one
// is a unit of context isolation for Stage 2.
func (a *Analyzer) dependencyPaths() [][]string {
	var sinks []string
	for _, st := range a.tasks {
		if len(a.succs[st.TaskID]) == 0 {
			sinks = append(sinks, st.TaskID)
		}
	}

	var paths [][]string
	seen := make(map[string]bool)

	// Walk backwards from each sink to every source, then reverse so paths
	// read source-first.
	var walk func(id string, tail []string)
	walk = func(id string, tail []string) {
		tail = append(tail, id)
		deps := a.deps[id]
		if len(deps) == 0 {
			path := make([]string, len(tail))
			for i, v := range tail {
				path[len(tail)-1-i] = v
			}
			key := strings.Join(path, "\x00")
			if !seen[key] {
				seen[key] = true
				paths = append(paths, path)
			}
			return
		}
		for _, dep := range deps {
			walk(dep, tail)
		}
	}
	for _, sink := range sinks {
		walk(sink, nil)
	}
	return paths
}
