package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionID_Format(t *testing.T) {
	id := NewSessionID()
	assert.True(t, Valid(id), "session id %q must match YYYYMMDDhhmmss_<6-hex>", id)
}

func TestNewRunID_Format(t *testing.T) {
	id := NewRunID()
	assert.True(t, strings.HasPrefix(id, "run_"))
	assert.True(t, Valid(strings.TrimPrefix(id, "run_")))
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		assert.False(t, seen[id], "duplicate session id %q", id)
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("20240601120000_ab12cd"))
	assert.False(t, Valid("20240601120000"))
	assert.False(t, Valid("20240601120000_XYZ123"))
	assert.False(t, Valid("run_20240601120000_ab12cd"))
}
