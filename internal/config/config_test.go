package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/collabkit/channels/pkg/protocol"
)

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "settle_timeout: 10s")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relay:
  addr: 0.0.0.0:9000
  tokens: [a, b]
client:
  drain_grace_period: 500ms
`), 0o600))
	t.Setenv("COLLAB_CLIENT_INTERVAL", "1s")
	t.Setenv("COLLAB_LOG_LEVEL", "debug")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Relay.Addr)
	require.Equal(t, []string{"a", "b"}, cfg.Relay.Tokens)
	require.Equal(t, 500*time.Millisecond, cfg.Client.DrainGracePeriod)
	require.Equal(t, time.Second, cfg.Client.Interval)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, Defaults().Client.SettleTimeout, cfg.Client.SettleTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  settle_timeout: 0s\n"), 0o600))

	_, err := Load(viper.New(), path)
	require.ErrorContains(t, err, "settle_timeout")
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestProtocolCodec(t *testing.T) {
	cfg := Defaults()
	codec, err := cfg.ProtocolCodec()
	require.NoError(t, err)
	require.Equal(t, protocol.Default, codec)

	cfg.Codec = "JSON"
	codec, err = cfg.ProtocolCodec()
	require.NoError(t, err)
	require.Equal(t, protocol.JSON, codec)

	cfg.Codec = "msgpack"
	require.ErrorContains(t, cfg.Validate(), "codec")
}
