package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "server:\n  port: 9090\n"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.75, cfg.Retrieval.Threshold)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3, cfg.Research.MaxQueries)
	assert.Equal(t, 24*time.Hour, cfg.Conversation.IdleTTL)
	assert.Equal(t, "property-inquiry", cfg.Temporal.TaskQueue)
}

func TestLoadOverridesThreshold(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "retrieval:\n  threshold: 0.6\n  top_k: 8\n"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Retrieval.Threshold)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "retrieval:\n  threshold: 1.5\n"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.threshold")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Retrieval.Threshold)
}
