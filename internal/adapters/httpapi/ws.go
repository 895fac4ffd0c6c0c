package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage enveloppe un événement du bus: {"event": topic, "data": payload}.
type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handleWS relaie le bus sur une websocket. Les messages entrants sont ignorés (keep-alive).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		notImplemented(w, "websocket")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, cancel := s.Bus.Subscribe()
	defer cancel()
	match := topicFilter(r)

	// CloseRead lit (et jette) les trames entrantes; ctx se termine à la déconnexion du client.
	ctx := conn.CloseRead(r.Context())
	s.logger.Debug().Msg("websocket client connected")

	hello, _ := json.Marshal(wsMessage{Event: "hello", Data: json.RawMessage(`{"status":"connected"}`)})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("websocket client disconnected")
			return
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if !match(evt.Topic) {
				continue
			}
			data := json.RawMessage(evt.Payload)
			if !json.Valid(data) {
				data, _ = json.Marshal(string(evt.Payload))
			}
			msg, err := json.Marshal(wsMessage{Event: evt.Topic, Data: data})
			if err != nil {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}
