package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aj002fr/frgpt/pkg/agent"
)

// Loader provides on-demand, cached tool descriptors per agent. Stage 2 asks
// only for the agents on its path, so tools outside that path are never
// materialized for it. The cache is filled on first request per agent and
// read-only afterwards.
type Loader struct {
	registry *Registry
	agents   *agent.Registry

	mu    sync.Mutex
	cache map[string][]Descriptor
}

// NewLoader creates a loader over the tool and agent registries.
func NewLoader(registry *Registry, agents *agent.Registry) *Loader {
	return &Loader{
		registry: registry,
		agents:   agents,
		cache:    make(map[string][]Descriptor),
	}
}

// ToolsFor returns the union of tool descriptors the given agents are
// permitted to invoke, loading missing agents into the cache.
func (l *Loader) ToolsFor(agentIDs []string) ([]Descriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Descriptor
	seen := make(map[string]bool)
	for _, agentID := range agentIDs {
		if agentID == "" {
			continue
		}
		descs, ok := l.cache[agentID]
		if !ok {
			loaded, err := l.load(agentID)
			if err != nil {
				return nil, err
			}
			l.cache[agentID] = loaded
			descs = loaded
			slog.Debug("Loaded tools for agent", "agent_id", agentID, "tool_count", len(loaded))
		}
		for _, d := range descs {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// load materializes the descriptors of every tool on the agent's allow-list.
// Caller holds l.mu.
func (l *Loader) load(agentID string) ([]Descriptor, error) {
	desc, ok := l.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, agentID)
	}
	var out []Descriptor
	for _, toolID := range desc.Tools {
		d, ok := l.registry.Get(toolID)
		if !ok {
			return nil, fmt.Errorf("%w: %s (agent %s)", ErrUnknownTool, toolID, agentID)
		}
		out = append(out, d)
	}
	return out, nil
}

// Invoke looks up the tool implementation, enforces the owning agent's
// allow-list, and calls it. Implementation failures surface as *ToolError.
func (l *Loader) Invoke(ctx context.Context, toolID string, call Call) (*Result, error) {
	desc, ok := l.registry.Get(toolID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}

	owner, ok := l.agents.Get(desc.AgentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, desc.AgentID)
	}
	if !owner.SupportsTool(toolID) {
		return nil, fmt.Errorf("%w: %s (agent %s)", ErrUnauthorizedTool, toolID, desc.AgentID)
	}

	handler, _ := l.registry.handlerFor(toolID)
	result, err := handler(ctx, call)
	if err != nil {
		return nil, &ToolError{ToolID: toolID, Cause: err}
	}
	return result, nil
}
