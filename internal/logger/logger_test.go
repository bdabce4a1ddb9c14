package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jarvis.log")
	require.NoError(t, Init(path))

	Info("resolved %s via %s", "ls ~/Desktop", "rule")
	Debug("hidden at info level")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"resolved ls ~/Desktop via rule"`)
	assert.NotContains(t, out, "hidden at info level")
}

func TestSetVerbose_EnablesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jarvis.log")
	require.NoError(t, Init(path))
	SetVerbose(true)
	defer SetVerbose(false)

	Debug("tier=%s", "cache")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "tier=cache"))
}

func TestWith_NoInitIsSafe(t *testing.T) {
	Close()
	l := With("request_id", "abc")
	require.NotNil(t, l)
	l.Infow("nothing happens")
}
