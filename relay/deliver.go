// Package relay routes human room messages to mentioned agents and
// projects the streamed replies back into the room.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/reply"
	"github.com/nicebartender/relay-server/ws"
)

// Broadcaster fans an event out to a room's subscribers. *ws.Hub
// implements it.
type Broadcaster interface {
	BroadcastToRoom(roomID string, event ws.RPCEvent, exclude *ws.Client)
}

// roomDeliverer turns projector payloads into room.message events. It
// remembers the message id posted for each tool call so a later payload
// with AllowEdit set becomes a room.message.update instead of a new
// message.
type roomDeliverer struct {
	hub    Broadcaster
	roomID string
	agent  db.Participant

	mu     sync.Mutex
	msgIDs map[string]string // tool-call id -> message id
}

func newRoomDeliverer(hub Broadcaster, roomID string, agent db.Participant) *roomDeliverer {
	return &roomDeliverer{
		hub:    hub,
		roomID: roomID,
		agent:  agent,
		msgIDs: make(map[string]string),
	}
}

func (d *roomDeliverer) deliver(ctx context.Context, kind reply.Kind, text string, meta reply.Meta) (bool, error) {
	event := "room.message"
	msgID := newMessageID()

	if meta.ToolCallID != "" {
		d.mu.Lock()
		if prev, ok := d.msgIDs[meta.ToolCallID]; ok && meta.AllowEdit {
			msgID = prev
			event = "room.message.update"
		} else {
			d.msgIDs[meta.ToolCallID] = msgID
		}
		d.mu.Unlock()
	}

	msg := ws.RoomMessage{
		ID:          msgID,
		RoomID:      d.roomID,
		SenderID:    d.agent.ID,
		SenderName:  d.agent.DisplayName,
		SenderEmoji: d.agent.Emoji,
		Content:     text,
		Kind:        wireKind(kind),
		IsAgent:     true,
		CreatedAt:   time.Now().UTC(),
	}

	d.hub.BroadcastToRoom(d.roomID, ws.NewEvent(event, map[string]interface{}{
		"roomId":  d.roomID,
		"message": msg,
	}), nil)
	return true, nil
}

func wireKind(kind reply.Kind) string {
	switch kind {
	case reply.KindTool:
		return "tool"
	case reply.KindBlock:
		return "block"
	default:
		return ""
	}
}

func newMessageID() string {
	b := make([]byte, 10)
	rand.Read(b)
	return hex.EncodeToString(b)[:16]
}
