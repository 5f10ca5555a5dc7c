package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testClient(buffer int) *Client {
	return &Client{send: make(chan []byte, buffer)}
}

func recvFrame(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case frame := <-c.send:
		var decoded map[string]interface{}
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("quadro inválido: %v", err)
		}
		return decoded
	case <-time.After(time.Second):
		t.Fatal("timeout aguardando quadro")
		return nil
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := testClient(4)
	b := testClient(4)
	hub.register <- a
	hub.register <- b

	hub.Publish(New(TypeConnection, map[string]interface{}{"state": "connected"}))

	for _, c := range []*Client{a, b} {
		frame := recvFrame(t, c)
		if frame["type"] != TypeConnection {
			t.Fatalf("esperava type connection, obteve %v", frame["type"])
		}
		if frame["state"] != "connected" {
			t.Fatalf("esperava state connected, obteve %v", frame["state"])
		}
	}
}

func TestRegisterReplaysSnapshot(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetSnapshot(func() []Event {
		return []Event{
			New(TypeConnection, map[string]interface{}{"state": "disconnected"}),
			New(TypeQR, map[string]interface{}{"qr": "data:image/png;base64,xyz"}),
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := testClient(4)
	hub.register <- c

	first := recvFrame(t, c)
	if first["type"] != TypeConnection {
		t.Fatalf("esperava replay de connection primeiro, obteve %v", first["type"])
	}
	second := recvFrame(t, c)
	if second["type"] != TypeQR {
		t.Fatalf("esperava replay de qr, obteve %v", second["type"])
	}
}

func TestSlowSubscriberIsDroppedWithoutBlocking(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := testClient(1)
	healthy := testClient(8)
	hub.register <- slow
	hub.register <- healthy

	// Primeiro evento enche o buffer do assinante lento; o segundo
	// força o descarte.
	hub.Publish(New(TypeMessage, map[string]interface{}{"n": 1}))
	hub.Publish(New(TypeMessage, map[string]interface{}{"n": 2}))

	recvFrame(t, healthy)
	frame := recvFrame(t, healthy)
	if frame["type"] != TypeMessage {
		t.Fatalf("assinante saudável deveria seguir recebendo, obteve %v", frame["type"])
	}

	// O canal do lento é fechado pelo hub ao descartá-lo.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("assinante lento não foi descartado")
		}
	}
}

func TestDetachAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := testClient(4)
	c.hub = hub
	hub.register <- c

	cancel()
	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub não sinalizou encerramento")
	}

	detached := make(chan struct{})
	go func() {
		c.detach()
		close(detached)
	}()

	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach travou após o encerramento do hub")
	}
}

func TestFrameFlattensPayload(t *testing.T) {
	evt := New(TypeQR, map[string]interface{}{"qr": "data:...", "rawQr": "ABC"})
	data, err := evt.Frame()
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("quadro inválido: %v", err)
	}
	if decoded["type"] != TypeQR || decoded["rawQr"] != "ABC" {
		t.Fatalf("quadro inesperado: %v", decoded)
	}
	if _, ok := decoded["payload"]; ok {
		t.Fatal("payload não deveria aparecer aninhado no quadro")
	}
}
