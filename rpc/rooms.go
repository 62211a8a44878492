package rpc

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/paircode"
	"github.com/nicebartender/relay-server/ws"
)

func (r *Router) handleRoomsList(client *ws.Client, req ws.RPCRequest) {
	rooms, err := r.DB.ListRoomsForParticipant(client.ParticipantID())
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}
	if rooms == nil {
		rooms = []db.Room{}
	}
	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"rooms": rooms,
	}))
}

func (r *Router) handleRoomsCreate(client *ws.Client, req ws.RPCRequest) {
	name := jsonString(req.Params["name"])
	emoji := jsonString(req.Params["emoji"])

	if name == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "name is required"))
		return
	}

	room, err := r.DB.CreateRoom(name, emoji, client.ParticipantID(), client.DisplayName())
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	// Create initial invite code
	dur := 7 * 24 * time.Hour
	invite, err := r.DB.CreateInvite(room.ID, client.ParticipantID(), &dur, 0)
	if err != nil {
		slog.Error("create invite failed", "err", err)
	}

	// Subscribe creator to room events
	r.Hub.SubscribeRoom(room.ID, client)

	resp := map[string]interface{}{
		"room": room,
	}
	if invite != nil {
		resp["inviteCode"] = invite.Code
		if r.ExternalURL != "" {
			resp["universalCode"] = paircode.Encode(r.ExternalURL, invite.Code)
		}
	}
	client.SendJSON(ws.NewResponse(req.ID, resp))
}

func (r *Router) handleRoomsJoin(client *ws.Client, req ws.RPCRequest) {
	code := jsonString(req.Params["inviteCode"])
	if code == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "inviteCode is required"))
		return
	}

	roomID, err := r.DB.RedeemInvite(code)
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_INVITE", err.Error()))
		return
	}

	// Check if already a participant
	already, _ := r.DB.IsParticipant(roomID, client.ParticipantID())
	if !already {
		if err := r.DB.AddParticipant(roomID, client.ParticipantID(), client.DisplayName(), db.RoleMember); err != nil {
			client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
			return
		}

		r.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.join", map[string]interface{}{
			"roomId":        roomID,
			"participantId": client.ParticipantID(),
			"displayName":   client.DisplayName(),
		}), nil)
	}

	// Subscribe to room events
	r.Hub.SubscribeRoom(roomID, client)

	room, err := r.DB.GetRoom(roomID)
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"room": room,
	}))
}

func (r *Router) handleRoomsLeave(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	if roomID == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId is required"))
		return
	}

	if err := r.DB.RemoveParticipant(roomID, client.ParticipantID()); err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	r.Hub.UnsubscribeRoom(roomID, client)

	r.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.leave", map[string]interface{}{
		"roomId":        roomID,
		"participantId": client.ParticipantID(),
		"displayName":   client.DisplayName(),
	}), nil)

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"ok": true,
	}))
}

func (r *Router) handleRoomsInfo(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	if roomID == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId is required"))
		return
	}

	// Verify participant
	ok, _ := r.DB.IsParticipant(roomID, client.ParticipantID())
	if !ok {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Not a participant"))
		return
	}

	room, err := r.DB.GetRoom(roomID)
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	// Annotate online status
	for i, p := range room.Participants {
		if !p.IsAgent {
			room.Participants[i].IsOnline = r.Hub.IsParticipantOnline(p.ID)
		}
	}

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"room": room,
	}))
}

// helpers

func jsonString(raw json.RawMessage) string {
	var s string
	if raw != nil {
		json.Unmarshal(raw, &s)
	}
	return s
}

func jsonInt(raw json.RawMessage) int {
	var i int
	if raw != nil {
		json.Unmarshal(raw, &i)
	}
	return i
}
