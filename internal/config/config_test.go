package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `server:
  port: 9090
ai:
  model: "gpt-4o"
  api_key: "from-file"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Server.MaxConnections)
	assert.Equal(t, 2*time.Minute, cfg.Server.ReconnectGrace)
	assert.Equal(t, 10, cfg.Server.TurnLimit)
	assert.Equal(t, time.Minute, cfg.Server.TurnWindow)
	assert.Equal(t, "./data/adventures", cfg.Storage.DataDir)
	assert.Equal(t, 90*time.Second, cfg.AI.GenerationTimeout)
	assert.Equal(t, 200, cfg.History.MaxEntries)
	assert.Equal(t, 40, cfg.History.KeepTail)
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:1234/v1")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AI.APIKey)
	assert.Equal(t, "http://localhost:1234/v1", cfg.AI.BaseURL)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `server:
  max_connections: 32
  reconnect_grace: 30s
history:
  max_entries: 50
  keep_tail: 10
`))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Server.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.Server.ReconnectGrace)
	assert.Equal(t, 50, cfg.History.MaxEntries)
	assert.Equal(t, 10, cfg.History.KeepTail)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [not: a map"))
	assert.Error(t, err)
}
