package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithoutFile(t *testing.T) {
	logger, err := New(true, "")
	require.NoError(t, err)
	logger.Info("console only")
}

func TestNewWritesJSONLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scrape-log.json")

	logger, err := New(false, path)
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Contains(t, entry, "ts")
}
