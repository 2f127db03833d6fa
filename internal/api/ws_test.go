package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JacobSoderblom/krypin/internal/bus"
	"github.com/JacobSoderblom/krypin/internal/contract"
)

// wsFrame mirrors the envelope pushed to websocket clients.
type wsFrame struct {
	ID      uuid.UUID `json:"id"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
}

func wsEndpoint(ts *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func TestEventsWSStreamsMatchingMessages(t *testing.T) {
	srv, _, b := newTestServer(t)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsEndpoint(ts, "pattern="+contract.TopicStateUpdateAll), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	entityID := uuid.New()

	// The heartbeat does not match the pattern and must not reach the client.
	heartbeat, err := json.Marshal(contract.Heartbeat{TS: time.Now().UTC()})
	if err != nil {
		t.Fatalf("marshal heartbeat: %v", err)
	}
	if err := b.Publish(ctx, bus.Message{Topic: contract.TopicHeartbeat, Payload: heartbeat}); err != nil {
		t.Fatalf("publish heartbeat: %v", err)
	}

	update, err := json.Marshal(contract.StateUpdate{EntityID: entityID, Value: "on", TS: time.Now().UTC()})
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	if err := b.Publish(ctx, bus.Message{Topic: contract.StateUpdateTopic(entityID), Payload: update}); err != nil {
		t.Fatalf("publish update: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if want := contract.StateUpdateTopic(entityID); frame.Topic != want {
		t.Errorf("topic = %q, want %q", frame.Topic, want)
	}
	if frame.ID == uuid.Nil {
		t.Error("frame id is nil, want a fresh id per frame")
	}
	payload, ok := frame.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want decoded JSON object", frame.Payload)
	}
	if got := payload["value"]; got != "on" {
		t.Errorf("payload value = %v, want on", got)
	}
	if got := payload["entity_id"]; got != entityID.String() {
		t.Errorf("payload entity_id = %v, want %s", got, entityID)
	}
}

func TestEventsWSBase64FallbackForOpaquePayloads(t *testing.T) {
	srv, _, b := newTestServer(t)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	// No pattern query: the default subscription sees every topic.
	conn, _, err := websocket.DefaultDialer.Dial(wsEndpoint(ts, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	raw := []byte{0xff, 0xfe, 0x01}
	if err := b.Publish(context.Background(), bus.Message{Topic: "krypin.adapter.blob", Payload: raw}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Topic != "krypin.adapter.blob" {
		t.Errorf("topic = %q, want krypin.adapter.blob", frame.Topic)
	}
	if want := base64.StdEncoding.EncodeToString(raw); frame.Payload != want {
		t.Errorf("payload = %v, want base64 %q", frame.Payload, want)
	}
}

func TestEventsWSRequiresToken(t *testing.T) {
	srv, _, b := newTestServer(t)
	srv.SetTokens([]string{"secret"})
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsEndpoint(ts, ""), nil)
	if err != websocket.ErrBadHandshake {
		t.Fatalf("dial err = %v, want %v", err, websocket.ErrBadHandshake)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want status %d", resp, http.StatusUnauthorized)
	}

	header := http.Header{"Authorization": {"Bearer secret"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsEndpoint(ts, ""), header)
	if err != nil {
		t.Fatalf("authenticated dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := b.Publish(context.Background(), bus.Message{Topic: contract.TopicHeartbeat, Payload: []byte(`{"ts":"2026-01-01T00:00:00Z"}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Topic != contract.TopicHeartbeat {
		t.Errorf("topic = %q, want %q", frame.Topic, contract.TopicHeartbeat)
	}
}

func TestEventsWSClosesWhenBusCloses(t *testing.T) {
	srv, _, b := newTestServer(t)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsEndpoint(ts, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := b.Close(); err != nil {
		t.Fatalf("close bus: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("read succeeded, want a close after the bus shut down")
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read err = %v, want normal closure", err)
	}
}
