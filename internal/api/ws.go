package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: the hub serves LAN clients and tokens
// are the access control, not the Origin header.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventFrame is one bus message rendered for websocket clients. ID is
// minted per frame so clients can deduplicate across reconnects.
type eventFrame struct {
	ID      uuid.UUID `json:"id"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
}

// handleEventsWS streams every bus message matching the pattern query
// (default "*") as JSON text frames. The session ends when the client
// closes, the bus shuts down, or the server stops.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := s.bus.Subscribe(ctx, pattern)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads only detect disconnects; clients have nothing to say on
	// this endpoint.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			frame := eventFrame{
				ID:      uuid.New(),
				Topic:   msg.Topic,
				Payload: decodeEventPayload(msg.Payload),
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

// decodeEventPayload keeps JSON payloads as JSON on the wire; anything
// else is wrapped as a base64 string.
func decodeEventPayload(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	return base64.StdEncoding.EncodeToString(payload)
}
