package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stageflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Engine.BottleneckThreshold)
	assert.Equal(t, 1000, cfg.Engine.RetainFinished)
	assert.True(t, cfg.Server.Metrics)
	assert.Zero(t, cfg.Engine.StageTimeout)
	assert.True(t, cfg.Definitions.Builtins)
	assert.False(t, cfg.Postgres.Enable)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
log:
  level: debug
engine:
  stage_timeout: 90s
  max_hops: 50
  approval:
    auto_approve: true
    allowed_types: [addStage, injectDecision]
definitions:
  paths: [./defs, ./more/triage.cue]
  builtins: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Engine.StageTimeout)
	assert.Equal(t, 50, cfg.Engine.MaxHops)
	assert.True(t, cfg.Engine.Approval.AutoApprove)
	assert.Equal(t, []string{"addStage", "injectDecision"}, cfg.Engine.Approval.AllowedTypes)
	assert.Equal(t, []string{"./defs", "./more/triage.cue"}, cfg.Definitions.Paths)
	assert.False(t, cfg.Definitions.Builtins)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "unset keys keep their defaults")
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("STAGEFLOW_LOG_LEVEL", "error")
	t.Setenv("STAGEFLOW_POSTGRES_ENABLE", "true")
	t.Setenv("STAGEFLOW_POSTGRES_DSN", "postgres://localhost/stageflow")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Postgres.Enable)
	assert.Equal(t, "postgres://localhost/stageflow", cfg.Postgres.DSN)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown level", body: "log:\n  level: loud\n"},
		{name: "negative hops", body: "engine:\n  max_hops: -1\n"},
		{name: "negative retention", body: "engine:\n  retain_finished: -5\n"},
		{name: "postgres without dsn", body: "postgres:\n  enable: true\n"},
		{name: "malformed yaml", body: "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}
