package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/projector"
)

func rawParams(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestApplyHelpersMergeAndClear(t *testing.T) {
	stored := &db.RoomSettings{}
	params := rawParams(t, `{"mode":"live","maxTurnChars":2048,"suppressRepeats":false}`)

	applyString(params, "mode", &stored.Mode)
	applyString(params, "separator", &stored.Separator) // absent key: untouched
	applyInt(params, "maxTurnChars", &stored.MaxTurnChars)
	applyBool(params, "suppressRepeats", &stored.SuppressRepeats)

	require.Equal(t, "live", *stored.Mode)
	require.Nil(t, stored.Separator)
	require.Equal(t, 2048, *stored.MaxTurnChars)
	require.False(t, *stored.SuppressRepeats)

	// null clears the override so the field inherits again
	params = rawParams(t, `{"mode":null}`)
	applyString(params, "mode", &stored.Mode)
	require.Nil(t, stored.Mode)

	// malformed values are ignored
	params = rawParams(t, `{"maxTurnChars":"lots"}`)
	applyInt(params, "maxTurnChars", &stored.MaxTurnChars)
	require.Equal(t, 2048, *stored.MaxTurnChars)
}

func TestEffectiveSettingsLayersDefaults(t *testing.T) {
	liveMode := projector.ModeLive
	r := &Router{Defaults: func() projector.Overrides {
		return projector.Overrides{Mode: &liveMode, Tags: map[string]bool{"usage": true}}
	}}

	// No stored settings: server defaults win.
	s := r.effectiveSettings(nil)
	require.Equal(t, projector.ModeLive, s.Mode)
	require.True(t, s.Visible("usage"))

	// Stored settings override defaults field by field.
	final := "final_only"
	s = r.effectiveSettings(&db.RoomSettings{
		Mode:         &final,
		TagOverrides: map[string]bool{"usage": false},
	})
	require.Equal(t, projector.ModeFinalOnly, s.Mode)
	require.False(t, s.Visible("usage"))

	view := settingsView(s)
	require.Equal(t, projector.ModeFinalOnly, view["mode"])
	require.Equal(t, map[string]bool{"usage": false}, view["tags"])
}
