package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// No file yet: a zero-value config, not an error.
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)

	cfg.Default.BaseURL = "https://staging.gather.social"
	cfg.Default.Conversation = "conv-42"
	cfg.Auth.Token = "session-token"
	cfg.Auth.UserID = "u-1"
	cfg.Auth.Username = "sam"
	require.NoError(t, saveConfig(cfg))

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	path, err := configPath()
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "token-bearing file stays private")
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".gather")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not = [toml"), 0o600))

	_, err := loadConfig()
	require.ErrorContains(t, err, "cannot parse config")
}

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, setConfigValue(cfg, "default.base_url", "https://example.com"))
	require.NoError(t, setConfigValue(cfg, "default.conversation", "conv-1"))
	require.NoError(t, setConfigValue(cfg, "auth.token", "tok"))
	require.NoError(t, setConfigValue(cfg, "auth.user_id", "u-1"))
	require.NoError(t, setConfigValue(cfg, "auth.username", "sam"))

	assert.Equal(t, "https://example.com", cfg.Default.BaseURL)
	assert.Equal(t, "conv-1", cfg.Default.Conversation)
	assert.Equal(t, "tok", cfg.Auth.Token)
	assert.Equal(t, "u-1", cfg.Auth.UserID)
	assert.Equal(t, "sam", cfg.Auth.Username)

	assert.ErrorContains(t, setConfigValue(cfg, "base_url", "x"), "dot notation")
	assert.ErrorContains(t, setConfigValue(cfg, "nope.field", "x"), "unknown config section")
	assert.ErrorContains(t, setConfigValue(cfg, "default.nope", "x"), `unknown field "nope"`)
	assert.ErrorContains(t, setConfigValue(cfg, "auth.nope", "x"), `unknown field "nope"`)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("short"))
	assert.Equal(t, "abcdef...wxyz", maskToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestValueOrDefault(t *testing.T) {
	assert.Equal(t, "fallback", valueOrDefault("", "fallback"))
	assert.Equal(t, "value", valueOrDefault("value", "fallback"))
}
