// Package reply owns the last mile between the projector and the chat
// transport: payload classification, size-bounded chunking, and
// coalesced, ordered delivery.
package reply

import (
	"context"
	"errors"
)

// Kind classifies an outbound payload for the transport.
type Kind string

const (
	// KindText is streamed model text.
	KindText Kind = "text"
	// KindTool is a tool-call summary line.
	KindTool Kind = "tool"
	// KindBlock is a standalone notice: usage, mode changes, truncation.
	KindBlock Kind = "block"
)

// Meta carries transport hints alongside a payload.
type Meta struct {
	Tag        string
	ToolCallID string
	ToolStatus string
	// AllowEdit marks a payload that replaces an earlier message for
	// the same tool call, so the transport may edit in place instead of
	// posting again.
	AllowEdit bool
}

// Payload is one queued outbound delivery.
type Payload struct {
	Kind Kind
	Text string
	Meta Meta
}

// DeliverFunc pushes one finished payload to the transport. The boolean
// reports whether the transport accepted it.
type DeliverFunc func(ctx context.Context, kind Kind, text string, meta Meta) (bool, error)

// ErrRejected is returned when the transport refuses a payload without
// giving a more specific error.
var ErrRejected = errors.New("reply: transport rejected payload")
