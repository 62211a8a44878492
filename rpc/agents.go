package rpc

import (
	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/ws"
)

func (r *Router) handleRoomsAddAgent(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	gatewayURL := jsonString(req.Params["gatewayUrl"])
	gatewayToken := jsonString(req.Params["gatewayToken"])
	agentID := jsonString(req.Params["agentId"])
	agentName := jsonString(req.Params["agentName"])
	agentEmoji := jsonString(req.Params["agentEmoji"])

	if roomID == "" || gatewayURL == "" || agentID == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId, gatewayUrl, and agentId are required"))
		return
	}

	role, err := r.DB.GetParticipantRole(roomID, client.ParticipantID())
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Not a participant"))
		return
	}
	if role != db.RoleOwner {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Only the room owner can manage agents"))
		return
	}

	if agentName == "" {
		agentName = agentID
	}

	if err := r.DB.AddAgentParticipant(roomID, agentID, agentName, agentEmoji, gatewayURL, gatewayToken); err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	participant, _ := r.DB.GetParticipant(roomID, agentID)

	// Broadcast join
	r.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.join", map[string]interface{}{
		"roomId":        roomID,
		"participantId": agentID,
		"displayName":   agentName,
		"emoji":         agentEmoji,
		"isAgent":       true,
	}), nil)

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"participant": participant,
	}))
}

func (r *Router) handleRoomsRemoveAgent(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	agentID := jsonString(req.Params["agentId"])

	if roomID == "" || agentID == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId and agentId are required"))
		return
	}

	role, err := r.DB.GetParticipantRole(roomID, client.ParticipantID())
	if err != nil || role != db.RoleOwner {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Only the room owner can manage agents"))
		return
	}

	if err := r.DB.RemoveParticipant(roomID, agentID); err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	r.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.leave", map[string]interface{}{
		"roomId":        roomID,
		"participantId": agentID,
		"isAgent":       true,
	}), nil)

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"ok": true,
	}))
}
