// Package ws owns the websocket side of the server: one Session per socket,
// a reader loop feeding the Router, a writer goroutine draining the outbox,
// and a heartbeat monitor evicting silent peers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/wire"
)

// Handler upgrades the request and runs the session until the socket dies.
// Authentication happens later, on join_room, because the token travels in
// the first frame rather than the URL.
func Handler(r *Router, allowedOrigins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			OriginPatterns: allowedOrigins,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		s := newSession(uuid.NewString(), conn, r.log)
		r.counters.Inc("connections_opened")
		defer r.counters.Inc("connections_closed")
		defer r.Disconnect(s)

		writeCtx, writeCancel := context.WithCancel(req.Context())
		defer writeCancel()
		go s.writeLoop(writeCtx)

		for {
			_, data, err := conn.Read(req.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Transport error: same cleanup as a graceful leave, via the
				// deferred Disconnect.
				return
			}

			var ev wire.ClientEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				r.counters.Inc("frames_unparseable")
				r.log.Debug("dropping unparseable frame", zap.String("conn", s.id), zap.Error(err))
				s.send(wire.Error(wire.ErrInvalidPayload, "malformed message"))
				continue
			}
			r.Dispatch(s, ev)
		}
	}
}
