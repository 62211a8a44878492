package agentwire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Event {
	t.Helper()
	ev, err := DecodeEvent(json.RawMessage(raw))
	require.NoError(t, err)
	return ev
}

func TestDecodeTextDelta(t *testing.T) {
	ev := decode(t, `{"type":"text_delta","stream":"output","tag":"agent_message_chunk","text":"Hi"}`)
	td, ok := ev.(TextDelta)
	require.True(t, ok)
	assert.Equal(t, StreamOutput, td.Stream)
	assert.Equal(t, TagMessageChunk, td.Tag)
	assert.Equal(t, "Hi", td.Text)
}

func TestDecodeTextDeltaDefaults(t *testing.T) {
	ev := decode(t, `{"type":"text_delta","text":"bare"}`)
	td, ok := ev.(TextDelta)
	require.True(t, ok)
	assert.Equal(t, StreamOutput, td.Stream, "missing stream defaults to output")
	assert.Equal(t, TagMessageChunk, td.Tag, "missing tag defaults to message chunk")
}

func TestDecodeStatusWithUsage(t *testing.T) {
	ev := decode(t, `{"type":"status","tag":"usage","used":1200,"size":8000}`)
	st, ok := ev.(Status)
	require.True(t, ok)
	assert.Equal(t, TagUsage, st.Tag)
	require.NotNil(t, st.Used)
	require.NotNil(t, st.Size)
	assert.Equal(t, 1200, *st.Used)
	assert.Equal(t, 8000, *st.Size)
}

func TestDecodeStatusWithoutCounters(t *testing.T) {
	ev := decode(t, `{"type":"status","tag":"session_info","text":"resumed"}`)
	st, ok := ev.(Status)
	require.True(t, ok)
	assert.Nil(t, st.Used)
	assert.Nil(t, st.Size)
	assert.Equal(t, "resumed", st.Text)
}

func TestDecodeToolCall(t *testing.T) {
	ev := decode(t, `{"type":"tool_call","toolCallId":"T1","title":"Read file","status":"in_progress","text":"main.go"}`)
	tc, ok := ev.(ToolCall)
	require.True(t, ok)
	assert.Equal(t, TagToolCall, tc.Tag)
	assert.Equal(t, "T1", tc.ToolCallID)
	assert.Equal(t, "Read file", tc.Title)
	assert.Equal(t, ToolStatusInProgress, tc.Status)
}

func TestDecodeToolCallUpdate(t *testing.T) {
	ev := decode(t, `{"type":"tool_call_update","toolCallId":"T1","status":"completed"}`)
	tc, ok := ev.(ToolCall)
	require.True(t, ok)
	assert.Equal(t, TagToolCallUpdate, tc.Tag)
	assert.Equal(t, ToolStatusCompleted, tc.Status)
}

func TestDecodeToolCallExplicitTagWins(t *testing.T) {
	ev := decode(t, `{"type":"tool_call","tag":"tool_call_update","toolCallId":"T1","status":"completed"}`)
	tc, ok := ev.(ToolCall)
	require.True(t, ok)
	assert.Equal(t, TagToolCallUpdate, tc.Tag)
}

func TestDecodeTerminals(t *testing.T) {
	_, ok := decode(t, `{"type":"done"}`).(Done)
	assert.True(t, ok)

	ev := decode(t, `{"type":"error","message":"model overloaded"}`)
	fail, ok := ev.(Error)
	require.True(t, ok)
	assert.Equal(t, "model overloaded", fail.Message)
}

func TestDecodeUnknownTypeBecomesHiddenStatus(t *testing.T) {
	ev := decode(t, `{"type":"telemetry_blip","text":"42ms"}`)
	st, ok := ev.(Status)
	require.True(t, ok)
	assert.Equal(t, "telemetry_blip", st.Tag)
	assert.Equal(t, "42ms", st.Text)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent(json.RawMessage(`{"`))
	assert.Error(t, err)

	_, err = DecodeEvent(json.RawMessage(`{"text":"no type"}`))
	assert.Error(t, err)
}

func TestTerminalToolStatus(t *testing.T) {
	assert.True(t, TerminalToolStatus(ToolStatusCompleted))
	assert.True(t, TerminalToolStatus(ToolStatusFailed))
	assert.True(t, TerminalToolStatus(ToolStatusCanceled))
	assert.False(t, TerminalToolStatus(ToolStatusPending))
	assert.False(t, TerminalToolStatus(ToolStatusInProgress))
	assert.False(t, TerminalToolStatus(""))
}

func TestGatewayURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gw.example.com", "wss://gw.example.com"},
		{"https://gw.example.com/", "wss://gw.example.com"},
		{"http://gw.example.com", "wss://gw.example.com"},
		{"wss://gw.example.com", "wss://gw.example.com"},
		{"ws://localhost:9089/", "ws://localhost:9089"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gatewayURL(tt.in), "input %q", tt.in)
	}
}
