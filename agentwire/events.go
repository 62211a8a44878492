// Package agentwire speaks the agent gateway protocol: an
// authenticated websocket carrying request/response pairs plus a stream
// of turn events while the agent works.
package agentwire

import (
	"encoding/json"
	"fmt"
)

// Event tags classify what a turn event carries. The set is open:
// gateways may send tags this list does not know, and unknown tags
// default to hidden downstream.
const (
	TagMessageChunk   = "agent_message_chunk"
	TagThoughtChunk   = "agent_thought_chunk"
	TagToolCall       = "tool_call"
	TagToolCallUpdate = "tool_call_update"
	TagUsage          = "usage"
	TagPlanUpdate     = "plan_update"
	TagModeUpdate     = "current_mode_update"
	TagConfigUpdate   = "config_option_update"
	TagSessionInfo    = "session_info"
)

// Tool call lifecycle statuses.
const (
	ToolStatusPending    = "pending"
	ToolStatusInProgress = "in_progress"
	ToolStatusCompleted  = "completed"
	ToolStatusFailed     = "failed"
	ToolStatusCanceled   = "canceled"
)

// TerminalToolStatus reports whether status ends a tool call's
// lifecycle.
func TerminalToolStatus(status string) bool {
	switch status {
	case ToolStatusCompleted, ToolStatusFailed, ToolStatusCanceled:
		return true
	}
	return false
}

// StreamOutput is the delta stream that reaches the conversation.
// Other streams (reasoning, debug) stay internal to the gateway.
const StreamOutput = "output"

// Event is one notice from the agent runtime during a turn. The
// concrete variants form a closed set: TextDelta, Status, ToolCall,
// Done and Error.
type Event interface {
	event()
}

// TextDelta is an incremental piece of model text on a named stream.
type TextDelta struct {
	Stream string
	Tag    string
	Text   string
}

// Status is a non-text notice such as a usage or mode update. Used and
// Size carry token counts when the runtime reports them.
type Status struct {
	Tag  string
	Text string
	Used *int
	Size *int
}

// ToolCall is a tool invocation lifecycle notice. Tag distinguishes the
// initial call from later updates for the same ToolCallID.
type ToolCall struct {
	Tag        string
	ToolCallID string
	Title      string
	Status     string
	Text       string
}

// Done ends the current turn normally.
type Done struct{}

// Error ends the current turn after an upstream failure.
type Error struct {
	Message string
}

func (TextDelta) event() {}
func (Status) event()    {}
func (ToolCall) event()  {}
func (Done) event()      {}
func (Error) event()     {}

// wireEvent is the gateway's JSON shape for one turn event.
type wireEvent struct {
	Type       string `json:"type"`
	Stream     string `json:"stream,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Text       string `json:"text,omitempty"`
	Used       *int   `json:"used,omitempty"`
	Size       *int   `json:"size,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

// DecodeEvent translates one wire payload into its Event variant.
// Unrecognized event types come back as status notices tagged with the
// raw type instead of being dropped, so a room can opt in to seeing
// them without a server upgrade.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode agent event: %w", err)
	}
	switch w.Type {
	case "text_delta":
		stream := w.Stream
		if stream == "" {
			stream = StreamOutput
		}
		tag := w.Tag
		if tag == "" {
			tag = TagMessageChunk
		}
		return TextDelta{Stream: stream, Tag: tag, Text: w.Text}, nil
	case "status":
		return Status{Tag: w.Tag, Text: w.Text, Used: w.Used, Size: w.Size}, nil
	case "tool_call", "tool_call_update":
		// The wire type doubles as the default tag so partial gateways
		// that omit the tag field still round-trip cleanly.
		tag := w.Tag
		if tag == "" {
			tag = w.Type
		}
		return ToolCall{Tag: tag, ToolCallID: w.ToolCallID, Title: w.Title, Status: w.Status, Text: w.Text}, nil
	case "done":
		return Done{}, nil
	case "error":
		return Error{Message: w.Message}, nil
	case "":
		return nil, fmt.Errorf("agent event missing type")
	default:
		return Status{Tag: w.Type, Text: w.Text}, nil
	}
}
