package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrent)
	assert.True(t, cfg.Orchestrator.ParallelEnabled)
	assert.Equal(t, "./data", cfg.Storage.Badger.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "showreel.toml")
	content := `
[server]
port = 9090

[orchestrator]
max_concurrent = 8
per_item_timeout = "2m"

[webhooks]
max_retries = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, "2m", cfg.Orchestrator.PerItemTimeout)
	assert.Equal(t, 3, cfg.Webhooks.MaxRetries)
	// Defaults survive partial files.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "5s", cfg.Orchestrator.PollInterval)
}

func TestLoadFromFileEnvOverride(t *testing.T) {
	t.Setenv("SHOWREEL_SERVER_PORT", "7070")
	t.Setenv("SHOWREEL_MAX_CONCURRENT", "2")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrent)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Orchestrator.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Orchestrator.PerItemTimeout = "not-a-duration"
	assert.Error(t, cfg.Validate())
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDurationOr("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("bogus", time.Minute))
}
