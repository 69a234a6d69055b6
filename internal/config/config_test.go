package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/habitnexus/backend/internal/logging"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, 5*time.Minute, cfg.Client.SyncIntervalDuration())
	assert.True(t, cfg.Client.Realtime)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/habits
log_level: debug
client:
  server_url: https://sync.example.com
  token: abc
  sync_interval: 30s
server:
  tokens:
    abc: alice
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/habits", cfg.DataDir)
	assert.Equal(t, logging.LevelDebug, cfg.Level())
	assert.Equal(t, "https://sync.example.com", cfg.Client.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Client.SyncIntervalDuration())
	assert.Equal(t, "10m", cfg.Client.RetryMax, "unset keys keep defaults")
	assert.Equal(t, "alice", cfg.Server.Tokens["abc"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HABITNEXUS_SERVER_URL", "http://env:1")
	t.Setenv("HABITNEXUS_TOKEN", "from-env")
	t.Setenv("HABITNEXUS_DATA_DIR", "/env/data")
	t.Setenv("HABITNEXUS_LISTEN", ":9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env:1", cfg.Client.ServerURL)
	assert.Equal(t, "from-env", cfg.Client.Token)
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, ":9999", cfg.Server.Listen)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "client: [",
		"bad level":    "log_level: loud",
		"bad duration": "client:\n  sync_interval: soon",
		"negative":     "client:\n  retry_base: -1s",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Client.Token = "secret"

	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", loaded.Client.Token)
}

func TestLogWriter(t *testing.T) {
	cfg := DefaultConfig()
	fallback := os.Stderr
	assert.Equal(t, fallback, cfg.LogWriter(fallback))

	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "habitnexus.log")
	w := cfg.LogWriter(fallback)
	require.NotEqual(t, fallback, w)

	_, err := w.Write([]byte("{\"message\":\"hello\"}\n"))
	require.NoError(t, err)
	if c, ok := w.(interface{ Close() error }); ok {
		require.NoError(t, c.Close())
	}

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
