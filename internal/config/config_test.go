package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPlannerModel, cfg.PlannerModel)
	assert.Equal(t, DefaultVisionModel, cfg.VisionModel)
	assert.Equal(t, DefaultMaxTurns, cfg.MaxTurns)
	assert.Equal(t, DefaultStepBudget, cfg.StepBudget)
	assert.Equal(t, "memory", cfg.SessionBackend)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout())
	assert.Equal(t, DefaultModelTimeout, cfg.ModelTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 0.0.0.0
port: 9090
planner_model: custom-planner
step_budget: 8
lock_timeout_seconds: 10
session_backend: sqlite
session_db_path: /tmp/droid.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "custom-planner", cfg.PlannerModel)
	assert.Equal(t, 8, cfg.StepBudget)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout())
	assert.Equal(t, "sqlite", cfg.SessionBackend)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DROID_PORT", "7070")
	t.Setenv("DROID_API_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_backend: redis\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session backend")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
