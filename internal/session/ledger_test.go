package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_InitializesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totalProfit.json")

	l, err := NewLedger(path)
	require.NoError(t, err)

	total, err := l.Total()
	require.NoError(t, err)
	assert.Zero(t, total)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "totalProfit")
}

func TestLedger_AddAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totalProfit.json")
	l, err := NewLedger(path)
	require.NoError(t, err)

	total, err := l.Add(0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, total, 1e-9)

	total, err = l.Add(-0.10)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, total, 1e-9)

	// Survives reopen.
	reopened, err := NewLedger(path)
	require.NoError(t, err)
	total, err = reopened.Total()
	require.NoError(t, err)
	assert.InDelta(t, 0.15, total, 1e-9)
}

func TestLedger_ParseFailureAbortsUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totalProfit.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	l, err := NewLedger(path)
	require.NoError(t, err)

	_, err = l.Add(1)
	assert.Error(t, err)

	// The corrupt file is left untouched for inspection.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not json", string(raw))
}

func TestLedger_ExistingTotalPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totalProfit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"totalProfit": 3.5}`), 0o644))

	l, err := NewLedger(path)
	require.NoError(t, err)

	total, err := l.Total()
	require.NoError(t, err)
	assert.InDelta(t, 3.5, total, 1e-9)
}
