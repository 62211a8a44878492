package rpc

import (
	"log/slog"

	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/projector"
	"github.com/nicebartender/relay-server/relay"
	"github.com/nicebartender/relay-server/ws"
)

type Router struct {
	Hub   *ws.Hub
	DB    *db.DB
	Relay *relay.Dispatcher

	// ExternalURL is the address embedded in universal pairing codes.
	ExternalURL string
	// Defaults returns the server-wide projection overrides used for the
	// effective-settings view. May be nil.
	Defaults func() projector.Overrides
}

func NewRouter(hub *ws.Hub, database *db.DB, dispatcher *relay.Dispatcher) *Router {
	r := &Router{Hub: hub, DB: database, Relay: dispatcher}
	hub.RPCRouter = r.Handle
	return r
}

func (r *Router) Handle(client *ws.Client, req ws.RPCRequest) {
	slog.Info("RPC", "method", req.Method, "participantID", client.ParticipantID())

	switch req.Method {
	case "rooms.list":
		r.handleRoomsList(client, req)
	case "rooms.create":
		r.handleRoomsCreate(client, req)
	case "rooms.join":
		r.handleRoomsJoin(client, req)
	case "rooms.leave":
		r.handleRoomsLeave(client, req)
	case "rooms.info":
		r.handleRoomsInfo(client, req)
	case "rooms.send":
		r.handleRoomsSend(client, req)
	case "rooms.addAgent":
		r.handleRoomsAddAgent(client, req)
	case "rooms.removeAgent":
		r.handleRoomsRemoveAgent(client, req)
	case "rooms.createInvite":
		r.handleRoomsCreateInvite(client, req)
	case "settings.get":
		r.handleSettingsGet(client, req)
	case "settings.update":
		r.handleSettingsUpdate(client, req)
	default:
		client.SendJSON(ws.NewErrorResponse(req.ID, "UNKNOWN_METHOD", "Unknown method: "+req.Method))
	}
}
