package agentwire

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrClosed means the gateway connection is gone.
	ErrClosed = errors.New("agentwire: connection closed")
	// ErrTurnActive means the client is already streaming a turn.
	ErrTurnActive = errors.New("agentwire: turn already active")
)

const sendTimeout = 60 * time.Second

// Client is one authenticated websocket connection to an agent gateway.
// It carries request/response calls plus at most one streaming turn at
// a time.
type Client struct {
	url   string
	token string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	turn      *activeTurn

	nextID    atomic.Int64
	pending   map[string]chan json.RawMessage
	pendingMu sync.Mutex

	events chan wireMessage
	done   chan struct{}

	// Ed25519 device identity
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	deviceID   string
}

// activeTurn is the stream for one in-flight chat.send.
type activeTurn struct {
	events chan Event
	// abandoned is closed by CancelTurn; a blocked forward gives up on
	// it instead of writing to a channel nobody reads.
	abandoned chan struct{}
}

// wireMessage is the same envelope the relay's own ws package speaks.
type wireMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewClient(url, token string) *Client {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	hash := sha256.Sum256(pub)
	deviceID := hex.EncodeToString(hash[:])

	return &Client{
		url:        url,
		token:      token,
		pending:    make(map[string]chan json.RawMessage),
		events:     make(chan wireMessage, 100),
		done:       make(chan struct{}),
		privateKey: priv,
		publicKey:  pub,
		deviceID:   deviceID,
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the gateway and completes the signed challenge
// handshake. Explicit ws:// URLs are honored for local gateways;
// everything else defaults to wss.
func (c *Client) Connect() error {
	wsURL := gatewayURL(c.url)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()

	if err := c.authenticate(); err != nil {
		conn.Close()
		return fmt.Errorf("auth: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	slog.Info("agentwire: connected", "url", wsURL)
	return nil
}

func gatewayURL(raw string) string {
	if strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://") {
		return strings.TrimSuffix(raw, "/")
	}
	for _, prefix := range []string{"https://", "http://"} {
		raw = strings.TrimPrefix(raw, prefix)
	}
	return "wss://" + strings.TrimSuffix(raw, "/")
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer func() {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
		c.mu.Lock()
		c.connected = false
		turn := c.turn
		c.turn = nil
		c.mu.Unlock()
		// Unblock a host still ranging over a dead turn.
		if turn != nil {
			close(turn.events)
		}
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("agentwire: readLoop ended", "err", err)
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		// Response to a pending request?
		if msg.Type == "res" && msg.ID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- message
				close(ch)
				continue
			}
		}

		if msg.Type == "event" {
			if msg.Event == "agent" {
				ev, err := DecodeEvent(msg.Payload)
				if err != nil {
					slog.Warn("agentwire: bad agent event", "err", err)
					continue
				}
				c.forwardTurnEvent(ev)
				continue
			}
			select {
			case c.events <- msg:
			default:
			}
		}
	}
}

// forwardTurnEvent hands one decoded event to the active turn. The send
// blocks until the host consumes it, so turn ordering survives slow
// deliveries; an abandoned turn or a dropped connection ends the wait.
func (c *Client) forwardTurnEvent(ev Event) {
	c.mu.Lock()
	turn := c.turn
	c.mu.Unlock()
	if turn == nil {
		return
	}

	select {
	case turn.events <- ev:
	case <-turn.abandoned:
		return
	case <-c.done:
		return
	}

	switch ev.(type) {
	case Done, Error:
		c.mu.Lock()
		if c.turn == turn {
			c.turn = nil
		}
		c.mu.Unlock()
		close(turn.events)
	}
}

// StreamTurn sends one message into the agent session and returns the
// stream of events for the turn. The channel closes after the terminal
// Done or Error event, or without one if the connection drops. One turn
// runs at a time per client; a second call returns ErrTurnActive.
func (c *Client) StreamTurn(ctx context.Context, sessionKey, message string) (<-chan Event, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.turn != nil {
		c.mu.Unlock()
		return nil, ErrTurnActive
	}
	turn := &activeTurn{
		events:    make(chan Event, 64),
		abandoned: make(chan struct{}),
	}
	// Registered before chat.send goes out so no early event is lost.
	c.turn = turn
	c.mu.Unlock()

	params := map[string]interface{}{
		"sessionKey":     sessionKey,
		"message":        message,
		"deliver":        false,
		"idempotencyKey": uuid.NewString(),
	}
	resp, err := c.send(ctx, "chat.send", params)
	if err != nil {
		c.dropTurn(turn)
		return nil, fmt.Errorf("chat.send: %w", err)
	}
	if !resp.OK {
		c.dropTurn(turn)
		errMsg := "unknown error"
		if resp.Error != nil {
			errMsg = resp.Error.Message
		}
		return nil, fmt.Errorf("chat.send rejected: %s", errMsg)
	}
	return turn.events, nil
}

// CancelTurn abandons the active turn. Events still in flight are
// discarded; the events channel is left to the garbage collector since
// the caller stops reading it.
func (c *Client) CancelTurn() {
	c.mu.Lock()
	turn := c.turn
	c.turn = nil
	c.mu.Unlock()
	if turn != nil {
		close(turn.abandoned)
	}
}

func (c *Client) dropTurn(turn *activeTurn) {
	c.mu.Lock()
	if c.turn == turn {
		c.turn = nil
	}
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, method string, params interface{}) (wireMessage, error) {
	id := fmt.Sprintf("go-%d", c.nextID.Add(1))

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := wireMessage{
		Type:   "req",
		ID:     id,
		Method: method,
		Params: params,
	}
	data, _ := json.Marshal(req)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return wireMessage{}, ErrClosed
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return wireMessage{}, err
	}

	select {
	case raw := <-ch:
		var resp wireMessage
		json.Unmarshal(raw, &resp)
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return wireMessage{}, ctx.Err()
	case <-time.After(sendTimeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return wireMessage{}, fmt.Errorf("timeout waiting for %s response", method)
	case <-c.done:
		return wireMessage{}, ErrClosed
	}
}

// base64URLEncode encodes bytes to base64url without padding, matching
// the device clients.
func base64URLEncode(data []byte) string {
	s := base64.StdEncoding.EncodeToString(data)
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.TrimRight(s, "=")
	return s
}

func (c *Client) authenticate() error {
	// Wait for the connect.challenge event
	var nonce string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case evt := <-c.events:
			if evt.Event == "connect.challenge" {
				var payload map[string]interface{}
				json.Unmarshal(evt.Payload, &payload)
				if n, ok := payload["nonce"].(string); ok {
					nonce = n
				}
			}
		case <-timeout:
			return fmt.Errorf("timeout waiting for challenge")
		case <-c.done:
			return fmt.Errorf("connection closed before challenge")
		}
		if nonce != "" {
			break
		}
	}

	clientID := "relay-server"
	mode := "bridge"
	role := "operator"
	scopes := "operator.read,operator.write"
	signedAt := time.Now().UnixMilli()

	signPayload := fmt.Sprintf("v2|%s|%s|%s|%s|%s|%d|%s|%s",
		c.deviceID, clientID, mode, role, scopes, signedAt, c.token, nonce)

	signature := ed25519.Sign(c.privateKey, []byte(signPayload))

	params := map[string]interface{}{
		"minProtocol": 3,
		"maxProtocol": 3,
		"client": map[string]interface{}{
			"id":          clientID,
			"displayName": "Relay Server",
			"version":     "1.0.0",
			"platform":    "server",
			"mode":        mode,
		},
		"role":   role,
		"scopes": []string{"operator.read", "operator.write"},
		"caps":   []string{},
		"auth":   map[string]interface{}{"token": c.token},
		"device": map[string]interface{}{
			"id":        c.deviceID,
			"publicKey": base64URLEncode(c.publicKey),
			"signature": base64URLEncode(signature),
			"signedAt":  signedAt,
			"nonce":     nonce,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := c.send(ctx, "connect", params)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("connect error: %s: %s", resp.Error.Code, resp.Error.Message)
	}
	if !resp.OK {
		return fmt.Errorf("connect rejected")
	}

	return nil
}
