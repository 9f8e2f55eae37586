package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
	assert.Equal(t, 80.0, cfg.Workflow.ATSThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "tailor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  cors_origins: ["https://app.example.com"]
llm:
  provider: anthropic
  model: claude-sonnet-4-5
workflow:
  ats_threshold: 70
store:
  driver: sqlite
  dsn: /tmp/tailor.db
session:
  ttl: 2h
`), 0o600))

	t.Setenv("TAILOR_SERVER_PORT", "9100")
	t.Setenv("TAILOR_LLM_TEMPERATURE", "0.2")
	t.Setenv("TAILOR_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("TAILOR_WORKFLOW_STEP_TIMEOUT", "90s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey)
	assert.Equal(t, 70.0, cfg.Workflow.ATSThreshold)
	assert.Equal(t, 90*time.Second, cfg.Workflow.StepTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens, "unset values keep defaults")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TAILOR_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TAILOR_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := map[string]map[string]string{
		"bad int":         {"TAILOR_SERVER_PORT": "eighty"},
		"bad duration":    {"TAILOR_SESSION_TTL": "forever"},
		"unknown driver":  {"TAILOR_STORE_DRIVER": "cassandra"},
		"sqlite sans dsn": {"TAILOR_STORE_DRIVER": "sqlite"},
		"redis sans addr": {"TAILOR_STORE_DRIVER": "redis"},
		"bad provider":    {"TAILOR_LLM_PROVIDER": "oracle-of-delphi"},
		"threshold range": {"TAILOR_WORKFLOW_ATS_THRESHOLD": "120"},
		"lock sans redis": {"TAILOR_SESSION_DISTRIBUTED_LOCK": "true"},
		"tracing sans endpoint": {
			"TAILOR_TELEMETRY_ENABLED": "true",
		},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadYAML(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
