// Package agent defines worker agent descriptors and the process-scoped
// agent registry used for query-to-agent mapping and tool allow-lists.
package agent

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrAgentNotFound indicates an agent id is not registered.
var ErrAgentNotFound = errors.New("agent not found in registry")

// Descriptor describes a registered worker capability.
type Descriptor struct {
	ID             string
	Description    string
	Keywords       []string // keyword hints for query-to-agent mapping
	RequiredFields []string // ordered input fields the agent expects
	Tools          []string // tool ids this agent is allowed to invoke
}

// SupportsTool reports whether the tool id is on the agent's allow-list.
func (d *Descriptor) SupportsTool(toolID string) bool {
	for _, id := range d.Tools {
		if id == toolID {
			return true
		}
	}
	return false
}

// Registry is the process-scoped agent registry. It is populated once before
// the first run and read-only afterwards, so lookups need no locking.
type Registry struct {
	order  []string
	agents map[string]*Descriptor
}

// NewRegistry builds a registry from descriptors in registration order.
func NewRegistry(descriptors []*Descriptor) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, errors.New("agent descriptor requires an id")
		}
		if _, dup := r.agents[d.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", d.ID)
		}
		r.agents[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

// Get returns the descriptor for an agent id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.agents[id]
	return d, ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.order)
}

// Match scores every agent by keyword overlap with the description
// (case-insensitive, word-boundary) and returns the best-scoring agent id.
// Ties are broken by registration order. A zero score returns ("", 0): the
// task is unmappable.
func (r *Registry) Match(description string) (string, int) {
	words := tokenize(description)

	bestID := ""
	bestScore := 0
	for _, id := range r.order {
		score := 0
		for _, hint := range r.agents[id].Keywords {
			if keywordMatches(hint, words) {
				score++
			}
		}
		if score > bestScore {
			bestID = id
			bestScore = score
		}
	}
	return bestID, bestScore
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]bool, len(fields))
	for _, f := range fields {
		words[f] = true
	}
	return words
}

// keywordMatches checks a single hint against the tokenized description.
// Multi-word hints match when every word of the hint appears.
func keywordMatches(hint string, words map[string]bool) bool {
	parts := strings.Fields(strings.ToLower(hint))
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !words[p] {
			return false
		}
	}
	return true
}
