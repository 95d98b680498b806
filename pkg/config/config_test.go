package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(`{}`)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.GetConnectTimeout())
	assert.Equal(t, 8, cfg.GetWorkers())
	assert.True(t, cfg.GetDiscardOnTransportError())
	assert.Equal(t, filepath.Join(".", "querylink.db"), cfg.GetStateDatabase())
	assert.Nil(t, cfg.Prometheus)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_Fields(t *testing.T) {
	cfg, err := ParseConfig(`{
		"state_database": ":memory:",
		"connect_timeout": "250ms",
		"workers": 3,
		"discard_on_transport_error": false,
		"prometheus": {"listen": "127.0.0.1:9191", "namespace": "ql"}
	}`)
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.GetStateDatabase())
	assert.Equal(t, 250*time.Millisecond, cfg.GetConnectTimeout())
	assert.Equal(t, 3, cfg.GetWorkers())
	assert.False(t, cfg.GetDiscardOnTransportError())
	require.NotNil(t, cfg.Prometheus)
	assert.Equal(t, "127.0.0.1:9191", cfg.Prometheus.GetListen())
	assert.Equal(t, "/metrics", cfg.Prometheus.GetPath())
	assert.Equal(t, "ql", cfg.Prometheus.GetNamespace())
}

func TestDuration_Unmarshal(t *testing.T) {
	cfg, err := ParseConfig(`{"connect_timeout": 2.5}`)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.GetConnectTimeout())

	_, err = ParseConfig(`{"connect_timeout": "soon"}`)
	assert.ErrorContains(t, err, "invalid duration")

	_, err = ParseConfig(`{"connect_timeout": true}`)
	assert.Error(t, err)
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := &Config{
		ConnectTimeout: Duration(-time.Second),
		Workers:        -1,
		Prometheus:     &PrometheusConfig{Listen: "nope", Path: "metrics", Namespace: "1bad"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "connect_timeout")
	assert.Contains(t, msg, "workers")
	assert.Contains(t, msg, "must contain a port")
	assert.Contains(t, msg, "must start with '/'")
	assert.Contains(t, msg, "namespace")
}

func TestReadConfigFile_RelativeStateDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "querylink.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"state_database": "state/servers.db"}`), 0o644))

	cfg, err := ReadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Dir())
	assert.Equal(t, filepath.Join(dir, "state", "servers.db"), cfg.GetStateDatabase())

	cfg.StateDatabase = "/abs/servers.db"
	assert.Equal(t, "/abs/servers.db", cfg.GetStateDatabase())
}

func TestReadConfigFile_Errors(t *testing.T) {
	_, err := ReadConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = ReadConfigFile(path)
	assert.ErrorContains(t, err, path)
}

func TestParsePrometheusListen(t *testing.T) {
	assert.Nil(t, ParsePrometheusListen(""))

	cfg := ParsePrometheusListen(":9100")
	assert.Equal(t, ":9100", cfg.GetListen())
	assert.Equal(t, "/metrics", cfg.GetPath())

	cfg = ParsePrometheusListen("127.0.0.1:9100/stats")
	assert.Equal(t, "127.0.0.1:9100", cfg.Listen)
	assert.Equal(t, "/stats", cfg.GetPath())
}
