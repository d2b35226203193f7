// Package httpapi is the control plane: liveness and the broadcast ingress
// the web application uses to push already-committed state changes into the
// realtime layer.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/registry"
	"github.com/pitchparty/realtime-server/internal/room"
	"github.com/pitchparty/realtime-server/internal/store"
	"github.com/pitchparty/realtime-server/internal/wire"
)

type Server struct {
	reg       *registry.Registry
	scheduler *store.Scheduler
	secret    string // REALTIME_BROADCAST_SECRET; empty means the ingress is disabled
	port      int
	log       *zap.Logger
	counters  *metrics.Counters
	now       func() time.Time
}

func NewServer(reg *registry.Registry, scheduler *store.Scheduler, secret string, port int, log *zap.Logger, counters *metrics.Counters) *Server {
	return &Server{
		reg:       reg,
		scheduler: scheduler,
		secret:    secret,
		port:      port,
		log:       log,
		counters:  counters,
		now:       time.Now,
	}
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "port": s.port})
}

type broadcastRequest struct {
	RoomCode string          `json:"roomCode"`
	Event    json.RawMessage `json:"event"`
	Secret   string          `json:"secret"`
}

// Broadcast accepts a state change the web app has already committed to the
// database, applies it to the in-memory snapshot (creating the room with a
// placeholder when no socket has shown up yet) and fans the original event
// out verbatim to every attached socket. Deliveries are not deduplicated: a
// retried POST applies its version bump again.
func (s *Server) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if s.secret == "" {
		writeError(w, http.StatusInternalServerError, "broadcast secret not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.secret)) != 1 {
		s.counters.Inc("ingress_rejected")
		writeError(w, http.StatusForbidden, "invalid secret")
		return
	}
	if req.RoomCode == "" || len(req.Event) == 0 {
		writeError(w, http.StatusBadRequest, "roomCode and event are required")
		return
	}
	var ev wire.ServerEvent
	if err := json.Unmarshal(req.Event, &ev); err != nil || ev.Type == "" {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	// The ingress may outrun the first websocket join, so the room is created
	// on demand with a mid-game placeholder.
	rm := s.ensureRoom(req.RoomCode)
	if rm == nil {
		writeError(w, http.StatusInternalServerError, "room could not be initialized")
		return
	}

	reply := make(chan registry.ApplyResult, 1)
	rm.Inbox() <- registry.Apply{
		Mutate: s.mutationFor(ev),
		Always: func(room.Snapshot) []registry.Outbound {
			// The event goes out exactly as the web app sent it, unknown
			// fields included.
			return []registry.Outbound{{Data: req.Event}}
		},
		Reply: reply,
	}
	res := <-reply

	if res.Changed {
		s.scheduler.Schedule(res.Snapshot)
	}
	s.counters.Inc("ingress_" + ev.Type)
	s.log.Info("ingress event applied",
		zap.String("room", req.RoomCode), zap.String("event", ev.Type),
		zap.Bool("mutated", res.Changed), zap.Int("version", res.Snapshot.Version))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": res.Snapshot.Version})
}

// mutationFor maps an ingress event type onto a snapshot transform. Several
// event types are broadcast-only and leave the registry untouched.
func (s *Server) mutationFor(ev wire.ServerEvent) func(room.Snapshot) (room.Snapshot, bool) {
	return func(cur room.Snapshot) (room.Snapshot, bool) {
		switch ev.Type {
		case wire.EvtPlayerJoined:
			if ev.Player == nil {
				return cur, false
			}
			return room.UpsertPlayer(cur, *ev.Player), true

		case wire.EvtReadyUpdate:
			if ev.PlayerID == "" || ev.IsReady == nil {
				return cur, false
			}
			return room.SetReady(cur, ev.PlayerID, *ev.IsReady)

		case wire.EvtStatusChanged:
			status, ok := room.ParseStatus(string(ev.Status))
			if !ok {
				return cur, false
			}
			return room.SetStatus(cur, status, ev.CurrentPhase, s.startedAt(ev)), true

		case wire.EvtPhaseChanged:
			return room.SetPhase(cur, ev.CurrentPhase, s.startedAt(ev)), true

		case wire.EvtSettingsChanged, wire.EvtBriefUpdated, wire.EvtContentSubmitted:
			return room.Touch(cur), true

		default:
			// player_left, presentation_state, room_state, hello_ack,
			// heartbeat, error: broadcast-only.
			return cur, false
		}
	}
}

func (s *Server) startedAt(ev wire.ServerEvent) time.Time {
	if ev.PhaseStartTime != nil {
		return *ev.PhaseStartTime
	}
	return s.now()
}

func (s *Server) ensureRoom(code string) *registry.Room {
	reply := make(chan *registry.Room, 1)
	s.reg.Inbox() <- registry.EnsureRoom{
		Code:  code,
		Seed:  room.NewPlaceholder(code, room.StatusCreating),
		Reply: reply,
	}
	return <-reply
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
