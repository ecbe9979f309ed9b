package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, 3, cfg.Probe.FailureThreshold)
	assert.Equal(t, "manual", cfg.Conflicts.DefaultStrategy)
	assert.Equal(t, 2*time.Second, cfg.Conflicts.SkewTolerance.Std())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	content := `
[server]
url = "https://sync.example.com"
timeout = "15s"

[probe]
interval = "1m"
failure_threshold = 5

[storage]
path = "/var/lib/offsync/client.db"
ceiling_bytes = 104857600

[conflicts]
default_strategy = "timestamp-wins"
skew_tolerance = "500ms"

[conflicts.per_module]
notes = "local-wins"
settings = "server-wins"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://sync.example.com", cfg.Server.URL)
	assert.Equal(t, 15*time.Second, cfg.Server.Timeout.Std())
	assert.Equal(t, time.Minute, cfg.Probe.Interval.Std())
	assert.Equal(t, 5, cfg.Probe.FailureThreshold)
	assert.Equal(t, int64(104857600), cfg.Storage.CeilingBytes)
	assert.Equal(t, "timestamp-wins", cfg.Conflicts.DefaultStrategy)
	assert.Equal(t, 500*time.Millisecond, cfg.Conflicts.SkewTolerance.Std())
	assert.Equal(t, "local-wins", cfg.Conflicts.PerModule["notes"])

	// sections absent from the file keep their defaults
	assert.Equal(t, 3, cfg.Sync.Workers)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoad_BadDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\ntimeout = \"soon\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
