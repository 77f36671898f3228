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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.MCP.Enable)
	assert.Equal(t, 5, cfg.Workflow.DefaultTimeoutMinutes)
	assert.Equal(t, "http://localhost:8000", cfg.Client.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Client.PollInterval)
	assert.Equal(t, "approval-gate", cfg.Telemetry.ServiceName)
	assert.True(t, cfg.Telemetry.MetricsEnable)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.Telemetry.SamplingRatio)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 5s
log:
  level: debug
  format: json
workflow:
  default_timeout_minutes: 45
client:
  base_url: "http://gate.internal:9090/"
  max_wait: 2m
`)
	t.Setenv("APPROVAL_GATE_LOG_LEVEL", "warn")
	t.Setenv("APPROVAL_GATE_MCP_ENABLE", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.MCP.Enable)
	assert.Equal(t, 45, cfg.Workflow.DefaultTimeoutMinutes)
	assert.Equal(t, "http://gate.internal:9090", cfg.Client.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Client.MaxWait)
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative default timeout", "workflow:\n  default_timeout_minutes: -1\n"},
		{"tls without files", "tls:\n  enable: true\n"},
		{"sampling ratio above one", "telemetry:\n  sampling_ratio: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
