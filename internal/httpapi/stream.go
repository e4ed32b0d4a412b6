package httpapi

import (
	"net/http"
	"strconv"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamBuffer = 64

// handleEventStream pushes log events to a websocket client as JSON objects,
// starting with up to ?recent=N already buffered events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event stream is not enabled", getCorrelationID(r))
		return
	}
	recent, _ := strconv.Atoi(r.URL.Query().Get("recent"))

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, unsubscribe := s.hub.Subscribe(streamBuffer)
	defer unsubscribe()

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())

	if recent > 0 {
		for _, event := range s.hub.Recent(recent) {
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
