package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viawind/pkg/config"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "viawind.log")

	cleanup, err := Init(config.LogConfig{Path: path, Level: "DEBUG"})
	require.NoError(t, err)

	slog.Info("run started", "turbines", 12)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run started")
	assert.Contains(t, string(data), "turbines=12")
}

func TestInitRotatesPreviousLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viawind.log")
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	cleanup, err := Init(config.LogConfig{Path: path, Level: "INFO"})
	require.NoError(t, err)
	cleanup()

	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)
	assert.Equal(t, "previous run\n", string(old))
}

func TestInitLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viawind.log")

	cleanup, err := Init(config.LogConfig{Path: path, Level: "WARN"})
	require.NoError(t, err)

	slog.Debug("noisy detail")
	slog.Warn("block failed", "row", 0, "col", 3600)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "noisy detail")
	assert.Contains(t, string(data), "block failed")
}
