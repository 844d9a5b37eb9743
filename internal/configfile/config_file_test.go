//go:build unit
// +build unit

package configfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[default]
transport = "http"
base_url = "http://localhost:3000"

[socket]
transport = "websocket"
ws_url = "ws://localhost:3000/ws"
request_timeout = "30s"

[socket.breaker]
failure_threshold = 3
recovery_timeout = "5s"

[socket.queue]
max_concurrent = 4
timeout = "2s"
`), 0o600))

	t.Setenv("SANDBOX_CONFIG_FILE", path)
	t.Setenv("SANDBOX_PROFILE", "socket")
	reset()
	defer reset()

	profile, err := ProfileFromConfigFile()
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "websocket", profile.Transport)
	assert.Equal(t, "ws://localhost:3000/ws", profile.WebSocketURL)
	assert.Equal(t, "30s", profile.RequestTimeout)
	assert.Equal(t, 3, profile.Breaker.FailureThreshold)
	assert.Equal(t, "5s", profile.Breaker.RecoveryTimeout)
	assert.Equal(t, 4, profile.Queue.MaxConcurrent)
	assert.Equal(t, "2s", profile.Queue.Timeout)
	assert.Len(t, profiles, 2)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  transport: websocket
  ws_url: ws://127.0.0.1:8080/ws
  queue:
    max_queued: 7
`), 0o600))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, loaded, "default")
	assert.Equal(t, "websocket", loaded["default"].Transport)
	assert.Equal(t, 7, loaded["default"].Queue.MaxQueued)
}

func TestMissingProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[default]\ntransport = \"http\"\n"), 0o600))

	t.Setenv("SANDBOX_CONFIG_FILE", path)
	t.Setenv("SANDBOX_PROFILE", "nope")
	reset()
	defer reset()

	profile, err := ProfileFromConfigFile()
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := LoadFile("config.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
