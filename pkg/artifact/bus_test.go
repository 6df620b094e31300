package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(agentID string, rows int) *Payload {
	data := make([]map[string]any, rows)
	for i := range data {
		data[i] = map[string]any{"n": i}
	}
	return &Payload{
		Data:     data,
		Metadata: NewMetadata(agentID, "test query", rows),
	}
}

func TestPublish_RoundTrip(t *testing.T) {
	bus := NewBus(t.TempDir())

	ref, err := bus.Publish("market-data", testPayload("market-data", 3))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(ref))
	assert.Equal(t, "000001.json", filepath.Base(ref))

	got, err := bus.Read(ref)
	require.NoError(t, err)
	assert.Len(t, got.Data, 3)
	assert.Equal(t, 3, got.Metadata.RowCount)
	assert.Equal(t, "market-data", got.Metadata.Agent)
	assert.Equal(t, PayloadVersion, got.Metadata.Version)
}

func TestPublish_SequenceIsMonotonic(t *testing.T) {
	bus := NewBus(t.TempDir())

	for i := 1; i <= 5; i++ {
		ref, err := bus.Publish("market-data", testPayload("market-data", 1))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%06d.json", i), filepath.Base(ref))
	}

	next, total, err := bus.Manifest("market-data")
	require.NoError(t, err)
	assert.Equal(t, 6, next)
	assert.Equal(t, 5, total)
}

func TestPublish_SequencesIndependentAcrossAgents(t *testing.T) {
	bus := NewBus(t.TempDir())

	ref1, err := bus.Publish("market-data", testPayload("market-data", 1))
	require.NoError(t, err)
	ref2, err := bus.Publish("predictions", testPayload("predictions", 1))
	require.NoError(t, err)

	assert.Equal(t, "000001.json", filepath.Base(ref1))
	assert.Equal(t, "000001.json", filepath.Base(ref2))
}

func TestPublish_ResumesFromManifestOnDisk(t *testing.T) {
	dir := t.TempDir()

	bus := NewBus(dir)
	_, err := bus.Publish("market-data", testPayload("market-data", 1))
	require.NoError(t, err)

	// A fresh bus over the same root continues the sequence.
	bus2 := NewBus(dir)
	ref, err := bus2.Publish("market-data", testPayload("market-data", 1))
	require.NoError(t, err)
	assert.Equal(t, "000002.json", filepath.Base(ref))
}

func TestPublish_RejectsRowCountMismatch(t *testing.T) {
	bus := NewBus(t.TempDir())

	payload := testPayload("market-data", 2)
	payload.Metadata.RowCount = 7

	_, err := bus.Publish("market-data", payload)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPublish_RejectsMissingMetadata(t *testing.T) {
	bus := NewBus(t.TempDir())

	for _, mutate := range []func(*Payload){
		func(p *Payload) { p.Metadata.Query = "" },
		func(p *Payload) { p.Metadata.Timestamp = "" },
		func(p *Payload) { p.Metadata.Agent = "" },
		func(p *Payload) { p.Metadata.Version = "" },
	} {
		payload := testPayload("market-data", 1)
		mutate(payload)
		_, err := bus.Publish("market-data", payload)
		require.ErrorIs(t, err, ErrInvalidPayload)
	}
}

func TestPublish_RejectsAgentMismatch(t *testing.T) {
	bus := NewBus(t.TempDir())

	_, err := bus.Publish("predictions", testPayload("market-data", 1))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPublish_ConcurrentNoGaps(t *testing.T) {
	bus := NewBus(t.TempDir())

	const n = 20
	var wg sync.WaitGroup
	refs := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := bus.Publish("market-data", testPayload("market-data", 1))
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, ref := range refs {
		assert.False(t, seen[ref], "duplicate artifact ref %s", ref)
		seen[ref] = true
	}

	next, total, err := bus.Manifest("market-data")
	require.NoError(t, err)
	assert.Equal(t, n+1, next)
	assert.Equal(t, n, total)
}

func TestPublish_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	bus := NewBus(dir)

	_, err := bus.Publish("market-data", testPayload("market-data", 1))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "agents", "market-data", "out"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestRead_NotFound(t *testing.T) {
	bus := NewBus(t.TempDir())

	_, err := bus.Read(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWriteRunLog(t *testing.T) {
	dir := t.TempDir()
	bus := NewBus(dir)

	ref, err := bus.WriteRunLog("market-data", "run_20240101120000_abc123", map[string]any{
		"tasks": []string{"t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run_20240101120000_abc123.json", filepath.Base(ref))

	_, err = os.Stat(ref)
	require.NoError(t, err)
}
