package rpc

import (
	"time"

	"github.com/nicebartender/relay-server/paircode"
	"github.com/nicebartender/relay-server/ws"
)

func (r *Router) handleRoomsCreateInvite(client *ws.Client, req ws.RPCRequest) {
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

	maxUses := jsonInt(req.Params["maxUses"])
	var expiresIn *time.Duration
	if seconds := jsonInt(req.Params["expiresIn"]); seconds > 0 {
		d := time.Duration(seconds) * time.Second
		expiresIn = &d
	} else {
		d := 7 * 24 * time.Hour
		expiresIn = &d
	}

	invite, err := r.DB.CreateInvite(roomID, client.ParticipantID(), expiresIn, maxUses)
	if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	resp := map[string]interface{}{
		"code":      invite.Code,
		"expiresAt": invite.ExpiresAt,
	}
	if r.ExternalURL != "" {
		resp["universalCode"] = paircode.Encode(r.ExternalURL, invite.Code)
	}
	client.SendJSON(ws.NewResponse(req.ID, resp))
}
