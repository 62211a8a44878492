package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nicebartender/relay-server/agentwire"
	"github.com/nicebartender/relay-server/clock"
	"github.com/nicebartender/relay-server/db"
	"github.com/nicebartender/relay-server/projector"
	"github.com/nicebartender/relay-server/reply"
	"github.com/nicebartender/relay-server/ws"
)

const (
	defaultCooldown    = 5 * time.Second
	defaultTurnTimeout = 120 * time.Second
)

// AgentClient is the slice of the gateway client the dispatcher drives.
type AgentClient interface {
	StreamTurn(ctx context.Context, sessionKey, message string) (<-chan agentwire.Event, error)
	CancelTurn()
}

// ConnectFunc acquires a (usually pooled) client for an agent's gateway.
type ConnectFunc func(url, token string) (AgentClient, error)

// Dispatcher routes posted room messages to the agents they address and
// runs one projected turn per (room, agent) pair at a time.
type Dispatcher struct {
	DB      *db.DB
	Hub     Broadcaster
	Connect ConnectFunc

	// Defaults returns the server-wide projection overrides. It is
	// re-read on every turn so config reloads apply without a restart.
	Defaults func() projector.Overrides

	Limits      projector.TransportLimits
	Cooldown    time.Duration
	TurnTimeout time.Duration
	Clock       clock.Clock

	mu       sync.Mutex
	inflight map[string]bool
	lastRun  map[string]time.Time

	turns sync.WaitGroup
}

func NewDispatcher(database *db.DB, hub Broadcaster, connect ConnectFunc) *Dispatcher {
	return &Dispatcher{
		DB:          database,
		Hub:         hub,
		Connect:     connect,
		Cooldown:    defaultCooldown,
		TurnTimeout: defaultTurnTimeout,
		Clock:       clock.System(),
		inflight:    make(map[string]bool),
		lastRun:     make(map[string]time.Time),
	}
}

// DispatchMessage inspects a posted message and starts a turn for every
// agent it addresses. Agent-authored messages never dispatch, so two
// agents cannot talk each other into a loop.
func (d *Dispatcher) DispatchMessage(roomID, content string, senderIsAgent bool) {
	if senderIsAgent {
		return
	}

	agents, err := d.DB.AgentsInRoom(roomID)
	if err != nil {
		slog.Error("relay: list agents failed", "err", err, "roomId", roomID)
		return
	}
	if len(agents) == 0 {
		return
	}

	targets := mentionedAgents(content, agents)
	if len(targets) == 0 && len(agents) == 1 {
		// A DM room (one human, one agent) dispatches without a mention.
		if participants, err := d.DB.GetParticipants(roomID); err == nil && len(participants) == 2 {
			targets = agents[:1]
		}
	}

	for _, agent := range targets {
		d.startTurn(roomID, agent, content)
	}
}

// Wait blocks until all in-flight turns finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.turns.Wait()
}

func mentionedAgents(content string, agents []db.Participant) []db.Participant {
	lower := strings.ToLower(content)
	var hit []db.Participant
	for _, a := range agents {
		if a.DisplayName == "" {
			continue
		}
		if strings.Contains(lower, "@"+strings.ToLower(a.DisplayName)) {
			hit = append(hit, a)
		}
	}
	return hit
}

func (d *Dispatcher) startTurn(roomID string, agent db.Participant, content string) {
	key := roomID + "|" + agent.ID
	now := d.Clock.Now()

	d.mu.Lock()
	if d.inflight[key] {
		d.mu.Unlock()
		slog.Info("relay: turn already in flight", "roomId", roomID, "agent", agent.ID)
		return
	}
	if last, ok := d.lastRun[key]; ok && now.Sub(last) < d.Cooldown {
		d.mu.Unlock()
		slog.Info("relay: agent cooling down", "roomId", roomID, "agent", agent.ID)
		return
	}
	d.inflight[key] = true
	d.lastRun[key] = now
	d.mu.Unlock()

	d.turns.Add(1)
	go func() {
		defer d.turns.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, key)
			d.mu.Unlock()
		}()
		d.runTurn(roomID, agent, content)
	}()
}

func (d *Dispatcher) runTurn(roomID string, agent db.Participant, content string) {
	slog.Info("relay: dispatching turn", "roomId", roomID, "agent", agent.ID)

	d.Hub.BroadcastToRoom(roomID, ws.NewEvent("room.typing", map[string]interface{}{
		"roomId":      roomID,
		"displayName": agent.DisplayName,
	}), nil)

	settings := d.resolveSettings(roomID)
	params := projector.ResolveStreamParams(settings.Mode, d.Limits)

	deliverer := newRoomDeliverer(d.Hub, roomID, agent)
	pipeline := reply.NewSendPipeline(params.MaxChunkChars, params.Joiner, params.CoalesceWindow, deliverer.deliver, d.Clock)
	chunker := reply.NewTextChunker(params.MinChunkChars, params.MaxChunkChars)
	proj := projector.New(settings, params, chunker, pipeline, d.Clock)

	client, err := d.Connect(agent.GatewayURL, agent.GatewayToken)
	if err != nil {
		slog.Error("relay: gateway connect failed", "err", err, "url", agent.GatewayURL)
		d.postErrorNotice(deliverer, agent, err)
		return
	}

	sessionKey, err := d.DB.EnsureAgentSession(roomID, agent.ID)
	if err != nil {
		slog.Error("relay: agent session failed", "err", err, "agent", agent.ID)
		d.postErrorNotice(deliverer, agent, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.TurnTimeout)
	defer cancel()

	events, err := client.StreamTurn(ctx, sessionKey, content)
	if err != nil {
		slog.Error("relay: stream turn failed", "err", err, "agent", agent.ID)
		d.postErrorNotice(deliverer, agent, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			client.CancelTurn()
			if err := proj.OnEvent(context.Background(), agentwire.Error{Message: "turn timed out"}); err != nil {
				slog.Warn("relay: timeout flush failed", "err", err)
			}
			d.postErrorNotice(deliverer, agent, errors.New("turn timed out"))
			return

		case ev, ok := <-events:
			if !ok {
				// Closed without a terminal event; synthesize one so the
				// projector flushes whatever it buffered.
				if err := proj.OnEvent(context.Background(), agentwire.Error{Message: "connection lost"}); err != nil {
					slog.Warn("relay: final flush failed", "err", err)
				}
				return
			}
			if err := proj.OnEvent(ctx, ev); err != nil {
				slog.Error("relay: delivery failed, aborting turn", "err", err, "agent", agent.ID)
				client.CancelTurn()
				proj.Flush(context.Background(), true)
				return
			}
			switch term := ev.(type) {
			case agentwire.Done:
				return
			case agentwire.Error:
				d.postErrorNotice(deliverer, agent, errors.New(term.Message))
				return
			}
		}
	}
}

func (d *Dispatcher) resolveSettings(roomID string) projector.Settings {
	var layers []projector.Overrides
	if d.Defaults != nil {
		layers = append(layers, d.Defaults())
	}
	stored, err := d.DB.GetRoomSettings(roomID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		slog.Warn("relay: room settings unavailable, using defaults", "err", err, "roomId", roomID)
	}
	if stored != nil {
		layers = append(layers, OverridesFromRoomSettings(stored))
	}
	return projector.ResolveSettings(layers...)
}

func (d *Dispatcher) postErrorNotice(deliverer *roomDeliverer, agent db.Participant, err error) {
	text := fmt.Sprintf("_%s encountered an error: %s_", agent.DisplayName, err)
	if _, derr := deliverer.deliver(context.Background(), reply.KindBlock, text, reply.Meta{}); derr != nil {
		slog.Warn("relay: error notice failed", "err", derr)
	}
}

// OverridesFromRoomSettings converts stored per-room settings into a
// projector override layer. Unknown mode or separator strings pass
// through; resolution ignores values it does not recognize.
func OverridesFromRoomSettings(s *db.RoomSettings) projector.Overrides {
	var o projector.Overrides
	if s == nil {
		return o
	}
	if s.Mode != nil {
		m := projector.Mode(*s.Mode)
		o.Mode = &m
	}
	if s.Separator != nil {
		sep := projector.Separator(*s.Separator)
		o.Separator = &sep
	}
	o.SuppressRepeats = s.SuppressRepeats
	o.MaxTurnChars = s.MaxTurnChars
	o.MaxToolSummaryChars = s.MaxToolSummaryChars
	o.MaxStatusChars = s.MaxStatusChars
	o.MaxMetaEventsPerTurn = s.MaxMetaEvents
	if len(s.TagOverrides) > 0 {
		o.Tags = s.TagOverrides
	}
	return o
}
