package agentwire

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestLiveConnect(t *testing.T) {
	url := os.Getenv("GATEWAY_URL")
	token := os.Getenv("GATEWAY_TOKEN")
	if url == "" || token == "" {
		t.Skip("GATEWAY_URL and GATEWAY_TOKEN must be set")
	}

	c := NewClient(url, token)
	err := c.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if !c.IsConnected() {
		t.Fatal("Expected connected")
	}
	t.Log("Connected successfully")
}

func TestLiveStreamTurn(t *testing.T) {
	url := os.Getenv("GATEWAY_URL")
	token := os.Getenv("GATEWAY_TOKEN")
	if url == "" || token == "" {
		t.Skip("GATEWAY_URL and GATEWAY_TOKEN must be set")
	}

	c := NewClient(url, token)
	err := c.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	events, err := c.StreamTurn(ctx, "agent:test:live", "Say hi in one sentence")
	if err != nil {
		t.Fatalf("StreamTurn failed: %v", err)
	}

	var text string
	for ev := range events {
		switch ev := ev.(type) {
		case TextDelta:
			if ev.Stream == StreamOutput {
				text += ev.Text
			}
		case Error:
			t.Fatalf("agent error: %s", ev.Message)
		}
	}
	if text == "" {
		t.Fatal("Expected non-empty streamed text")
	}
	t.Logf("Agent response: %s", text)
}

func TestStreamTurnRequiresConnection(t *testing.T) {
	c := NewClient("gw.example.com", "token")
	_, err := c.StreamTurn(context.Background(), "agent:x:room:y", "hello")
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
