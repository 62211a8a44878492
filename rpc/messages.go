package rpc

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/nicebartender/relay-server/ws"
)

// handleRoomsSend relays a message to the room's subscribers and hands it
// to the dispatcher. Nothing is persisted; the room is a relay, not a log.
func (r *Router) handleRoomsSend(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	content := jsonString(req.Params["content"])

	if roomID == "" || content == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId and content are required"))
		return
	}

	sender, err := r.DB.GetParticipant(roomID, client.ParticipantID())
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Not a participant"))
		return
	}

	senderName := sender.DisplayName
	if senderName == "" {
		senderName = client.DisplayName()
	}

	msg := ws.RoomMessage{
		ID:          generateMsgID(),
		RoomID:      roomID,
		SenderID:    client.ParticipantID(),
		SenderName:  senderName,
		SenderEmoji: sender.Emoji,
		Content:     content,
		IsAgent:     sender.IsAgent,
		CreatedAt:   time.Now().UTC(),
	}

	// Broadcast to room
	r.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.message", map[string]interface{}{
		"roomId":  roomID,
		"message": msg,
	}), nil)

	if err := r.DB.TouchRoom(roomID); err != nil {
		slog.Warn("touch room failed", "err", err, "roomId", roomID)
	}

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"messageId": msg.ID,
	}))

	// Hand to the dispatcher; mentioned agents reply asynchronously.
	if r.Relay != nil {
		r.Relay.DispatchMessage(roomID, content, sender.IsAgent)
	}
}

func generateMsgID() string {
	b := make([]byte, 10)
	rand.Read(b)
	return hex.EncodeToString(b)[:16]
}
