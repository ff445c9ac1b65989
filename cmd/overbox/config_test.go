package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "server.url", "http://localhost:8080"))
	require.NoError(t, setConfigValue(cfg, "client.offline", "true"))
	require.NoError(t, setConfigValue(cfg, "client.db", "/tmp/x.db"))

	require.Equal(t, "http://localhost:8080", cfg.Server.URL)
	require.True(t, cfg.Client.Offline)
	require.Equal(t, "/tmp/x.db", cfg.Client.DB)

	require.Error(t, setConfigValue(cfg, "server", "x"))
	require.Error(t, setConfigValue(cfg, "server.port", "x"))
	require.Error(t, setConfigValue(cfg, "other.url", "x"))
	require.Error(t, setConfigValue(cfg, "client.offline", "maybe"))
}

func TestConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)

	cfg.Server.URL = "http://example.test"
	cfg.Server.Token = "tok"
	cfg.Client.Namespace = "games"
	require.NoError(t, saveConfig(path, cfg))

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestResolveConfigAppliesEnvAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, saveConfig(path, &Config{Server: ConfigServer{URL: "http://file", Token: "file-token"}}))

	flagConfig = path
	t.Cleanup(func() { flagConfig = "" })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OVERBOX_SERVER_URL", "http://env")
	t.Setenv("OVERBOX_OFFLINE", "1")

	cfg, err := resolveConfig()
	require.NoError(t, err)
	require.Equal(t, "http://env", cfg.Server.URL)
	require.Equal(t, "file-token", cfg.Server.Token)
	require.True(t, cfg.Client.Offline)
	require.Equal(t, "overbox", cfg.Client.Namespace)
	require.Equal(t, "offline.db", filepath.Base(cfg.Client.DB))
}

func TestResolveConfigRejectsBadOfflineValue(t *testing.T) {
	flagConfig = filepath.Join(t.TempDir(), "missing.toml")
	t.Cleanup(func() { flagConfig = "" })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OVERBOX_OFFLINE", "sometimes")

	_, err := resolveConfig()
	require.ErrorContains(t, err, "OVERBOX_OFFLINE")
}

func TestParseAssignments(t *testing.T) {
	rec, err := parseAssignments([]string{"date=2025-01-01", "rated=true", "moves=42", "note=a=b"})
	require.NoError(t, err)
	require.Equal(t, "2025-01-01", rec["date"])
	require.Equal(t, true, rec["rated"])
	require.Equal(t, float64(42), rec["moves"])
	require.Equal(t, "a=b", rec["note"])

	_, err = parseAssignments([]string{"novalue"})
	require.Error(t, err)
}
