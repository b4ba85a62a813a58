package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, key := range []string{
		envConfigFile, envLogLevel, envCountries, envReflector, envElevation, envSavePath,
		envStreamMode, envLogClear, envGracePeriod, envListen, envMaxMirrors, envTimeout,
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.ConfigFile)
	require.Equal(t, 20, cfg.Mirrors.DefaultMaxMirrors)
	require.Equal(t, 20, cfg.Mirrors.DefaultTimeoutSeconds)
	require.True(t, cfg.Mirrors.DefaultHTTPS)
	require.False(t, cfg.Mirrors.DefaultHTTP)
	require.Equal(t, "pkexec", cfg.Mirrors.Elevation)
	require.Equal(t, "/etc/pacman.d/mirrorlist", cfg.Mirrors.SavePath)
	require.Equal(t, LogClearOnFinish, cfg.Mirrors.LogClear)
	require.Contains(t, cfg.Mirrors.Countries, "Norway")
	require.NotEmpty(t, cfg.AppDataDir)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "welcome.yaml")
	content := []byte(`log:
  level: debug
mirrors:
  countries: ["Norway", "France"]
  default_protocols: [https, http]
  default_sort: Age
  default_max_mirrors: 5
  stream_mode: pty
  grace_period: 3s
server:
  listen: 127.0.0.1:9000
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv(envConfigFile, path)
	t.Setenv(envMaxMirrors, "7")
	t.Setenv(envLogClear, LogClearOnStart)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, path, cfg.ConfigFile)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"Norway", "France"}, cfg.Mirrors.Countries)
	require.True(t, cfg.Mirrors.DefaultHTTP)
	require.Equal(t, "age", cfg.Mirrors.DefaultSort)
	require.Equal(t, 7, cfg.Mirrors.DefaultMaxMirrors)
	require.Equal(t, StreamModePTY, cfg.Mirrors.StreamMode)
	require.Equal(t, LogClearOnStart, cfg.Mirrors.LogClear)
	require.Equal(t, 3*time.Second, cfg.Mirrors.GracePeriod)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv(envConfigFile, filepath.Join(dir, "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv(envStreamMode, "socket")

	_, err := Load()
	require.ErrorContains(t, err, "stream_mode")
}

func TestValidateRejectsQuotedCountry(t *testing.T) {
	cfg := Default()
	cfg.Mirrors.Countries = []string{`Norway" --save /tmp/x "`}
	require.Error(t, cfg.Validate())
}

func TestMirrorDefaults(t *testing.T) {
	d := Default().Mirrors.Defaults()
	require.True(t, d.IncludeHTTPS)
	require.Equal(t, 20, d.MaxMirrors)
	require.Equal(t, "rate", string(d.SortBy))
	require.Len(t, d.SortKeys, 5)
	require.True(t, Default().Mirrors.IsAllowedCountry("United States"))
	require.False(t, Default().Mirrors.IsAllowedCountry("Atlantis"))
}
