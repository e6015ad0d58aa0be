package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  address: "127.0.0.1:9000"
schema: [shared.yaml, server.yaml]
middleware:
  timeout: 250ms
`))
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Server.Network)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(10), cfg.Registry.TTL)
	assert.Equal(t, "round_robin", cfg.Registry.Balancer)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "binary", cfg.Codec)
	assert.Equal(t, []string{"shared.yaml", "server.yaml"}, cfg.Schema)
	assert.Equal(t, 250*time.Millisecond, cfg.Middleware.Timeout)
}

func TestParseRejectsBadValues(t *testing.T) {
	for _, doc := range []string{
		"codec: protobuf",
		"registry: {ttl: 0}",
		"registry: {balancer: least_loaded}",
		"middleware: {rate: -1}",
		"server: [not, a, map]",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slicingd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codec: msgpack\nlog: {level: debug}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
