package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsOverMinimalConfig(t *testing.T) {
	path := writeConfig(t, `{"shm-path": "/tmp/otlp.shm"}`)

	keys, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/otlp.shm", keys.ShmPath)
	require.Equal(t, 512, keys.Logs.MaxBatchSize)
	require.Equal(t, "10s", keys.ReportInterval)
	require.Equal(t, ":8081", keys.Health.Addr)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"shm-path": "/tmp/otlp.shm",
		"report-interval": "1m",
		"sinks": {"nats": {"address": "nats://localhost:4222"}}
	}`)

	keys, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "1m", keys.ReportInterval)
	require.NotNil(t, keys.Sinks.Nats)
	require.Equal(t, "nats://localhost:4222", keys.Sinks.Nats.Address)
}

func TestLoadRejectsMissingShmPath(t *testing.T) {
	path := writeConfig(t, `{"report-interval": "1m"}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `{"shm-path": "/tmp/otlp.shm", "bogus-field": 1}`)
	_, err := Load(path)
	require.Error(t, err)
}
