package main

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicebartender/relay-server/projector"
)

func resetFlags(t *testing.T) {
	t.Helper()
	prevAddr, prevDB, prevURL, prevConfig := flagAddr, flagDB, flagExternalURL, flagConfig
	t.Cleanup(func() {
		flagAddr, flagDB, flagExternalURL, flagConfig = prevAddr, prevDB, prevURL, prevConfig
	})
	flagAddr, flagDB, flagExternalURL, flagConfig = "", "", "", ""
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"RELAY_ADDR", "RELAY_DB", "RELAY_EXTERNAL_URL", "RELAY_CONFIG", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestBuildConfigDefaults(t *testing.T) {
	resetFlags(t)
	clearEnv(t)

	cfg, err := buildConfig()
	require.NoError(t, err)
	require.Equal(t, ":8090", cfg.ListenAddr)
	require.Equal(t, "relay.db", cfg.DBPath)
	require.Empty(t, cfg.ExternalURL)
	require.Empty(t, cfg.ConfigPath)
}

func TestBuildConfigPortEnv(t *testing.T) {
	resetFlags(t)
	clearEnv(t)
	t.Setenv("PORT", "7070")

	cfg, err := buildConfig()
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.ListenAddr)
}

func TestBuildConfigPrecedence(t *testing.T) {
	resetFlags(t)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments and trailing commas are allowed
		"addr": ":1111",
		"db": "file.db",
		"externalUrl": "file.example.com",
	}`), 0o644))
	flagConfig = path

	cfg, err := buildConfig()
	require.NoError(t, err)
	require.Equal(t, ":1111", cfg.ListenAddr)
	require.Equal(t, "file.db", cfg.DBPath)
	require.Equal(t, "file.example.com", cfg.ExternalURL)

	t.Setenv("RELAY_ADDR", ":2222")
	t.Setenv("RELAY_DB", "env.db")
	cfg, err = buildConfig()
	require.NoError(t, err)
	require.Equal(t, ":2222", cfg.ListenAddr)
	require.Equal(t, "env.db", cfg.DBPath)
	require.Equal(t, "file.example.com", cfg.ExternalURL)

	flagAddr = ":3333"
	cfg, err = buildConfig()
	require.NoError(t, err)
	require.Equal(t, ":3333", cfg.ListenAddr)
	require.Equal(t, "env.db", cfg.DBPath)
}

func TestBuildConfigProjection(t *testing.T) {
	resetFlags(t)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "relay.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"projection": {
			"mode": "live",
			"maxTurnChars": 9000,
			"tags": {"agent_status": true},
		},
	}`), 0o644))
	flagConfig = path

	cfg, err := buildConfig()
	require.NoError(t, err)
	require.Equal(t, path, cfg.ConfigPath)
	require.NotNil(t, cfg.Projection.Mode)
	require.Equal(t, projector.ModeLive, *cfg.Projection.Mode)
	require.NotNil(t, cfg.Projection.MaxTurnChars)
	require.Equal(t, 9000, *cfg.Projection.MaxTurnChars)
	require.True(t, cfg.Projection.Tags["agent_status"])
}

func TestBuildConfigMissingFile(t *testing.T) {
	resetFlags(t)
	clearEnv(t)
	flagConfig = filepath.Join(t.TempDir(), "absent.jsonc")

	_, err := buildConfig()
	require.Error(t, err)
}

func TestWatchProjectionReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"projection":{"maxTurnChars": 100}}`), 0o644))

	store := &atomic.Pointer[projector.Overrides]{}
	store.Store(&projector.Overrides{})
	require.NoError(t, watchProjection(path, store))

	require.NoError(t, os.WriteFile(path, []byte(`{"projection":{"maxTurnChars": 250}}`), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		o := store.Load()
		if o != nil && o.MaxTurnChars != nil && *o.MaxTurnChars == 250 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("projection defaults never reloaded")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
