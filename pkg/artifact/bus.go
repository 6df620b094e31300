// Package artifact implements the content-addressed artifact bus: crash-safe,
// append-only storage of large per-task JSON outputs with a per-agent
// monotonic sequence counter.
//
// Layout under the bus root:
//
//	agents/<agent_id>/out/<seq>.json   published artifacts (immutable)
//	agents/<agent_id>/meta.json        manifest
//	agents/<agent_id>/logs/<run_id>.json  per-run execution logs
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PayloadVersion is stamped into artifact metadata on publish.
const PayloadVersion = "1.0"

// Sentinel errors for artifact operations.
var (
	// ErrInvalidPayload indicates a payload failed publish-time validation.
	ErrInvalidPayload = errors.New("invalid artifact payload")

	// ErrNotFound indicates an artifact reference does not resolve.
	ErrNotFound = errors.New("artifact not found")
)

// Metadata is the required metadata envelope of every published artifact.
type Metadata struct {
	Query     string `json:"query"`
	Timestamp string `json:"timestamp"` // ISO-8601 UTC, second precision
	RowCount  int    `json:"row_count"`
	Agent     string `json:"agent"`
	Version   string `json:"version"`
}

// Payload is the canonical artifact document: data rows plus metadata.
type Payload struct {
	Data     []map[string]any `json:"data"`
	Metadata Metadata         `json:"metadata"`
}

// manifest tracks per-agent publish state. Replaced atomically on every
// publish so readers never observe a torn write.
type manifest struct {
	NextSequence   int       `json:"next_sequence"`
	TotalPublished int       `json:"total_published"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

type agentState struct {
	mu       sync.Mutex
	manifest *manifest
}

// Bus is the artifact bus rooted at a workspace directory.
type Bus struct {
	root string

	mu     sync.Mutex
	agents map[string]*agentState
}

// NewBus creates a bus rooted at dir. Directories are created lazily on first
// publish per agent.
func NewBus(dir string) *Bus {
	return &Bus{
		root:   dir,
		agents: make(map[string]*agentState),
	}
}

// Publish validates the payload, allocates the agent's next sequence number,
// and writes the artifact atomically (temp file, fsync, rename). It returns
// the absolute path of the published artifact.
func (b *Bus) Publish(agentID string, payload *Payload) (string, error) {
	if err := validatePayload(agentID, payload); err != nil {
		return "", err
	}

	state := b.agentState(agentID)
	state.mu.Lock()
	defer state.mu.Unlock()

	agentDir := filepath.Join(b.root, "agents", agentID)
	outDir := filepath.Join(agentDir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	m, err := b.loadManifest(state, agentDir)
	if err != nil {
		return "", err
	}
	seq := m.NextSequence

	final := filepath.Join(outDir, fmt.Sprintf("%06d.json", seq))
	if err := writeFileAtomic(outDir, final, payload); err != nil {
		return "", fmt.Errorf("failed to publish artifact %s: %w", final, err)
	}

	m.NextSequence = seq + 1
	m.TotalPublished++
	m.LastUpdatedAt = time.Now().UTC()
	if err := writeFileAtomic(agentDir, filepath.Join(agentDir, "meta.json"), m); err != nil {
		return "", fmt.Errorf("failed to commit manifest for %s: %w", agentID, err)
	}
	state.manifest = m

	abs, err := filepath.Abs(final)
	if err != nil {
		return final, nil
	}
	return abs, nil
}

// Read resolves an artifact reference produced by Publish.
func (b *Bus) Read(ref string) (*Payload, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", ref, err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", ref, err)
	}
	return &payload, nil
}

// Manifest returns a copy of the agent's current manifest state.
func (b *Bus) Manifest(agentID string) (nextSequence, totalPublished int, err error) {
	state := b.agentState(agentID)
	state.mu.Lock()
	defer state.mu.Unlock()

	m, err := b.loadManifest(state, filepath.Join(b.root, "agents", agentID))
	if err != nil {
		return 0, 0, err
	}
	return m.NextSequence, m.TotalPublished, nil
}

// WriteRunLog writes a per-run log document under the agent's logs directory,
// replacing any previous log for the same run id.
func (b *Bus) WriteRunLog(agentID, runID string, v any) (string, error) {
	logsDir := filepath.Join(b.root, "agents", agentID, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}
	final := filepath.Join(logsDir, runID+".json")
	if err := writeFileAtomic(logsDir, final, v); err != nil {
		return "", fmt.Errorf("failed to write run log %s: %w", final, err)
	}
	abs, err := filepath.Abs(final)
	if err != nil {
		return final, nil
	}
	return abs, nil
}

func (b *Bus) agentState(agentID string) *agentState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.agents[agentID]
	if !ok {
		state = &agentState{}
		b.agents[agentID] = state
	}
	return state
}

// loadManifest returns the cached manifest, falling back to the on-disk copy
// and then to a fresh one starting at sequence 1. Caller holds state.mu.
func (b *Bus) loadManifest(state *agentState, agentDir string) (*manifest, error) {
	if state.manifest != nil {
		return state.manifest, nil
	}

	data, err := os.ReadFile(filepath.Join(agentDir, "meta.json"))
	if errors.Is(err, os.ErrNotExist) {
		return &manifest{NextSequence: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.NextSequence < 1 {
		m.NextSequence = 1
	}
	return &m, nil
}

func validatePayload(agentID string, payload *Payload) error {
	if payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	md := payload.Metadata
	switch {
	case md.Agent == "":
		return fmt.Errorf("%w: missing metadata.agent", ErrInvalidPayload)
	case md.Agent != agentID:
		return fmt.Errorf("%w: metadata.agent %q does not match publishing agent %q", ErrInvalidPayload, md.Agent, agentID)
	case md.Query == "":
		return fmt.Errorf("%w: missing metadata.query", ErrInvalidPayload)
	case md.Timestamp == "":
		return fmt.Errorf("%w: missing metadata.timestamp", ErrInvalidPayload)
	case md.Version == "":
		return fmt.Errorf("%w: missing metadata.version", ErrInvalidPayload)
	case md.RowCount != len(payload.Data):
		return fmt.Errorf("%w: row_count %d disagrees with len(data) %d", ErrInvalidPayload, md.RowCount, len(payload.Data))
	}
	return nil
}

// writeFileAtomic writes v as JSON to a temporary sibling file, syncs it, and
// renames it onto final.
func writeFileAtomic(dir, final string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// NewMetadata builds the metadata envelope for a payload about to be
// published.
func NewMetadata(agentID, query string, rowCount int) Metadata {
	return Metadata{
		Query:     query,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RowCount:  rowCount,
		Agent:     agentID,
		Version:   PayloadVersion,
	}
}
