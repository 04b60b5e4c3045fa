package bootstrap

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.MaxPortAttempts)
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	t.Parallel()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	fs.String("data-dir", "", "")
	fs.String("log-level", "info", "")
	fs.Int("max-port-attempts", 10, "")
	require.NoError(t, fs.Set("addr", ":9090"))
	require.NoError(t, fs.Set("log-level", "debug"))

	cfg, err := Load(fs, "")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	t.Parallel()
	_, err := Load(nil, "")
	assert.NoError(t, err)
}
