package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLoader uses a private viper instance so tests do not leak state into
// the global one the CLI binds flags to.
func testLoader() *Loader {
	return &Loader{v: viper.New()}
}

func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "croplens.yaml")
	content := `
log_level: debug
providers:
  api_key: file-key
  workspace: file-workspace
  rice_workflow_id: custom-rice
policy:
  min_confidence: 0.5
batch:
  workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := testLoader().LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file-key", cfg.Providers.APIKey)
	assert.Equal(t, "custom-rice", cfg.Providers.RiceWorkflowID)
	assert.InDelta(t, 0.5, cfg.Policy.MinConfidence, 1e-9)
	assert.Equal(t, 8, cfg.Batch.Workers)

	// Unset keys fall back to defaults.
	assert.Equal(t, "wheat-detection", cfg.Providers.WheatWorkflowID)
	assert.InDelta(t, 0.02, cfg.Policy.ConfidenceMargin, 1e-9)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadWithFile_Missing(t *testing.T) {
	_, err := testLoader().LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "croplens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	_, err := testLoader().LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadWithFile_EmptyPathFallsBackToDefaults(t *testing.T) {
	// Run from an empty directory so no stray croplens.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := testLoader().LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Batch.Workers)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CROPLENS_PROVIDERS_API_KEY", "env-key")
	t.Setenv("CROPLENS_BATCH_WORKERS", "12")

	cfg, err := testLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Providers.APIKey)
	assert.Equal(t, 12, cfg.Batch.Workers)
}
