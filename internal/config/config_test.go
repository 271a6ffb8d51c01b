package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_KEY_PATH", "/tmp/test_host_key")
	t.Setenv("VHOST_SUFFIX", "")
	t.Setenv("SSH_LISTEN", "")
	t.Setenv("API_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ".t.local", cfg.VHostSuffix)
	assert.Equal(t, ":2222", cfg.SSHListen)
	assert.Equal(t, ":8080", cfg.HTTPListen)
	assert.Equal(t, "localhost", cfg.APIHost)
}

func TestLoadRejectsSuffixWithoutLeadingDot(t *testing.T) {
	t.Setenv("SERVER_KEY_PATH", "/tmp/test_host_key")
	t.Setenv("VHOST_SUFFIX", "t.local")

	_, err := Load()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRequiresServerKeyPath(t *testing.T) {
	t.Setenv("SERVER_KEY_PATH", "")
	t.Setenv("VHOST_SUFFIX", ".t.local")

	_, err := Load()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsInvalidSSHListen(t *testing.T) {
	t.Setenv("SERVER_KEY_PATH", "/tmp/test_host_key")
	t.Setenv("SSH_LISTEN", "no-port-here")

	_, err := Load()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsHostlessAPIURL(t *testing.T) {
	t.Setenv("SERVER_KEY_PATH", "/tmp/test_host_key")
	t.Setenv("API_URL", "not a url")

	_, err := Load()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
