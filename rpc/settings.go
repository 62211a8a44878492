package rpc

import (
	"encoding/json"
	"errors"

	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/projector"
	"github.com/nicebartender/relay-server/relay"
	"github.com/nicebartender/relay-server/ws"
)

// handleSettingsGet returns the room's stored overrides together with the
// effective projection settings after server defaults and clamping.
func (r *Router) handleSettingsGet(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	if roomID == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId is required"))
		return
	}

	ok, _ := r.DB.IsParticipant(roomID, client.ParticipantID())
	if !ok {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Not a participant"))
		return
	}

	stored, err := r.DB.GetRoomSettings(roomID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"overrides": stored,
		"effective": settingsView(r.effectiveSettings(stored)),
	}))
}

// handleSettingsUpdate merges the provided fields into the room's stored
// overrides. A JSON null clears a field back to the server default; tag
// entries merge one by one, and "tags": null clears them all.
func (r *Router) handleSettingsUpdate(client *ws.Client, req ws.RPCRequest) {
	roomID := jsonString(req.Params["roomId"])
	if roomID == "" {
		client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "roomId is required"))
		return
	}

	role, err := r.DB.GetParticipantRole(roomID, client.ParticipantID())
	if err != nil || role != db.RoleOwner {
		client.SendJSON(ws.NewErrorResponse(req.ID, "FORBIDDEN", "Only the room owner can change settings"))
		return
	}

	stored, err := r.DB.GetRoomSettings(roomID)
	if errors.Is(err, db.ErrNotFound) {
		stored = &db.RoomSettings{RoomID: roomID}
	} else if err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	applyString(req.Params, "mode", &stored.Mode)
	applyString(req.Params, "separator", &stored.Separator)
	applyBool(req.Params, "suppressRepeats", &stored.SuppressRepeats)
	applyInt(req.Params, "maxTurnChars", &stored.MaxTurnChars)
	applyInt(req.Params, "maxToolSummaryChars", &stored.MaxToolSummaryChars)
	applyInt(req.Params, "maxStatusChars", &stored.MaxStatusChars)
	applyInt(req.Params, "maxMetaEvents", &stored.MaxMetaEvents)

	if raw, ok := req.Params["tags"]; ok {
		if isNull(raw) {
			stored.TagOverrides = nil
		} else {
			var tags map[string]bool
			if err := json.Unmarshal(raw, &tags); err != nil {
				client.SendJSON(ws.NewErrorResponse(req.ID, "INVALID_PARAMS", "tags must be an object of tag -> bool"))
				return
			}
			if stored.TagOverrides == nil {
				stored.TagOverrides = make(map[string]bool)
			}
			for tag, visible := range tags {
				stored.TagOverrides[tag] = visible
			}
		}
	}

	if err := r.DB.SaveRoomSettings(stored); err != nil {
		client.SendJSON(ws.NewErrorResponse(req.ID, "DB_ERROR", err.Error()))
		return
	}

	effective := settingsView(r.effectiveSettings(stored))

	r.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.settings", map[string]interface{}{
		"roomId":    roomID,
		"effective": effective,
	}), nil)

	client.SendJSON(ws.NewResponse(req.ID, map[string]interface{}{
		"overrides": stored,
		"effective": effective,
	}))
}

func (r *Router) effectiveSettings(stored *db.RoomSettings) projector.Settings {
	var layers []projector.Overrides
	if r.Defaults != nil {
		layers = append(layers, r.Defaults())
	}
	if stored != nil {
		layers = append(layers, relay.OverridesFromRoomSettings(stored))
	}
	return projector.ResolveSettings(layers...)
}

func settingsView(s projector.Settings) map[string]interface{} {
	return map[string]interface{}{
		"mode":                s.Mode,
		"separator":           s.Separator,
		"suppressRepeats":     s.SuppressRepeats,
		"maxTurnChars":        s.MaxTurnChars,
		"maxToolSummaryChars": s.MaxToolSummaryChars,
		"maxStatusChars":      s.MaxStatusChars,
		"maxMetaEvents":       s.MaxMetaEventsPerTurn,
		"tags":                s.Tags(),
	}
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func applyString(params map[string]json.RawMessage, key string, dst **string) {
	raw, ok := params[key]
	if !ok {
		return
	}
	if isNull(raw) {
		*dst = nil
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*dst = &s
	}
}

func applyBool(params map[string]json.RawMessage, key string, dst **bool) {
	raw, ok := params[key]
	if !ok {
		return
	}
	if isNull(raw) {
		*dst = nil
		return
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		*dst = &b
	}
}

func applyInt(params map[string]json.RawMessage, key string, dst **int) {
	raw, ok := params[key]
	if !ok {
		return
	}
	if isNull(raw) {
		*dst = nil
		return
	}
	var i int
	if err := json.Unmarshal(raw, &i); err == nil {
		*dst = &i
	}
}
