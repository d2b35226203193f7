package ws

import (
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/registry"
	"github.com/pitchparty/realtime-server/internal/room"
	"github.com/pitchparty/realtime-server/internal/store"
	"github.com/pitchparty/realtime-server/internal/token"
	"github.com/pitchparty/realtime-server/internal/wire"
)

// Router dispatches inbound client events to their handlers. Every
// state-mutating handler follows the same six steps: authorize, apply exactly
// one version-incrementing update, broadcast the typed delta, broadcast
// room_state, schedule a debounced persist, record an audit event. The last
// two are best effort and never undo the broadcast that already happened.
type Router struct {
	reg               *registry.Registry
	scheduler         *store.Scheduler
	secret            string
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	log               *zap.Logger
	counters          *metrics.Counters
	now               func() time.Time
}

func NewRouter(
	reg *registry.Registry,
	scheduler *store.Scheduler,
	secret string,
	heartbeatInterval, heartbeatTimeout time.Duration,
	log *zap.Logger,
	counters *metrics.Counters,
) *Router {
	return &Router{
		reg:               reg,
		scheduler:         scheduler,
		secret:            secret,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		log:               log,
		counters:          counters,
		now:               time.Now,
	}
}

// Dispatch routes one inbound event. Runs on the session's reader goroutine,
// so per-socket handling is serialized by construction.
func (r *Router) Dispatch(s *Session, ev wire.ClientEvent) {
	switch ev.Type {
	case wire.EvtJoinRoom:
		r.handleJoin(s, ev)
	case wire.EvtSetReady:
		r.handleSetReady(s, ev)
	case wire.EvtAdvancePhase:
		r.handleAdvancePhase(s, ev)
	case wire.EvtSetStatus:
		r.handleSetStatus(s, ev)
	case wire.EvtPresentationState:
		r.handlePresentationState(s, ev)
	case wire.EvtHeartbeat:
		r.handleHeartbeat(s)
	case wire.EvtLeaveRoom:
		r.Disconnect(s)
	default:
		r.counters.Inc("events_unknown")
		s.send(wire.Error(wire.ErrInvalidPayload, "unknown event type"))
		return
	}
	r.counters.Inc("event_" + ev.Type)
}

func (r *Router) handleJoin(s *Session, ev wire.ClientEvent) {
	if ev.RoomCode == "" || ev.PlayerID == "" || ev.PlayerToken == "" {
		s.send(wire.Error(wire.ErrInvalidPayload, "join_room requires roomCode, playerId and playerToken"))
		return
	}
	claims, err := token.Verify(ev.PlayerToken, r.secret)
	if err != nil {
		r.counters.Inc("joins_unauthorized")
		s.send(wire.Error(wire.ErrUnauthorized, err.Error()))
		return
	}
	if claims.RoomCode != ev.RoomCode || claims.PlayerID != ev.PlayerID {
		s.send(wire.Error(wire.ErrForbidden, "token does not match room or player"))
		return
	}

	// A second join on a live socket releases the old attachment first.
	if old := s.takeMeta(); old != nil {
		r.teardown(s, old)
	}

	seed := room.NewPlaceholder(ev.RoomCode, room.StatusLobby)
	if ev.InitialSnapshot != nil {
		seed = room.Clone(*ev.InitialSnapshot)
		seed.Code = ev.RoomCode
	}
	rm := r.ensureRoom(ev.RoomCode, seed)
	if rm == nil {
		s.send(wire.Error(wire.ErrRoomNotFound, "room could not be initialized"))
		return
	}

	// Adopt a strictly newer client-observed snapshot (the web app is the
	// source of truth for membership); stale or equal versions are ignored so
	// a reconnecting client can never shrink the room.
	var joined []room.PlayerSummary
	res := r.apply(rm, registry.Apply{
		Mutate: func(cur room.Snapshot) (room.Snapshot, bool) {
			if ev.InitialSnapshot == nil || ev.InitialSnapshot.Version <= cur.Version {
				return cur, false
			}
			adopted := room.Clone(*ev.InitialSnapshot)
			adopted.Code = ev.RoomCode
			joined = room.MissingPlayers(cur, adopted)
			return adopted, true
		},
		Events: func(next room.Snapshot) []registry.Outbound {
			out := make([]registry.Outbound, 0, len(joined))
			for _, p := range joined {
				out = append(out, registry.Outbound{
					Data:    encode(wire.PlayerJoined(ev.RoomCode, p, next.Version)),
					Exclude: s.id,
				})
			}
			return out
		},
		Always: func(next room.Snapshot) []registry.Outbound {
			return []registry.Outbound{{Data: encode(wire.RoomState(next)), Exclude: s.id}}
		},
	})

	meta := &connMeta{
		roomCode:      ev.RoomCode,
		playerID:      ev.PlayerID,
		room:          rm,
		stop:          make(chan struct{}),
		lastHeartbeat: r.now(),
	}
	s.setMeta(meta)
	go r.monitor(s, meta)

	snap := r.attach(rm, registry.Client{ID: s.id, PlayerID: ev.PlayerID, Outbox: s.outbox})
	s.send(wire.HelloAck(ev.RoomCode, snap))

	r.scheduler.Schedule(res.Snapshot)
	r.audit(ev.RoomCode, wire.EvtJoinRoom, res.Snapshot.Version, map[string]any{"playerId": ev.PlayerID})
	r.log.Info("client joined room",
		zap.String("room", ev.RoomCode), zap.String("player", ev.PlayerID),
		zap.String("conn", s.id), zap.Int("version", snap.Version))
}

func (r *Router) handleSetReady(s *Session, ev wire.ClientEvent) {
	if ev.RoomCode == "" || ev.PlayerID == "" || ev.IsReady == nil {
		s.send(wire.Error(wire.ErrInvalidPayload, "set_ready requires roomCode, playerId and isReady"))
		return
	}
	meta := s.getMeta()
	if meta == nil || meta.playerID != ev.PlayerID {
		s.send(wire.Error(wire.ErrForbidden, "cannot set ready for another player"))
		return
	}
	rm := r.lookupRoom(ev.RoomCode)
	if rm == nil {
		s.send(wire.Error(wire.ErrRoomNotFound, "room not found"))
		return
	}

	ready := *ev.IsReady
	res := r.apply(rm, registry.Apply{
		Mutate: func(cur room.Snapshot) (room.Snapshot, bool) {
			return room.SetReady(cur, ev.PlayerID, ready)
		},
		Events: func(next room.Snapshot) []registry.Outbound {
			return []registry.Outbound{
				{Data: encode(wire.ReadyUpdate(ev.RoomCode, ev.PlayerID, ready, next.Version))},
				{Data: encode(wire.RoomState(next))},
			}
		},
	})
	if !res.Changed {
		s.send(wire.Error(wire.ErrPlayerNotFound, "player not found in room"))
		return
	}

	r.scheduler.Schedule(res.Snapshot)
	r.audit(ev.RoomCode, wire.EvtSetReady, res.Snapshot.Version,
		map[string]any{"playerId": ev.PlayerID, "isReady": ready})
}

func (r *Router) handleAdvancePhase(s *Session, ev wire.ClientEvent) {
	meta := s.getMeta()
	if meta == nil {
		s.send(wire.Error(wire.ErrForbidden, "not joined to a room"))
		return
	}
	code := ev.RoomCode
	if code == "" {
		code = meta.roomCode
	}
	rm := r.lookupRoom(code)
	if rm == nil {
		s.send(wire.Error(wire.ErrRoomNotFound, "room not found"))
		return
	}

	denied := false
	now := r.now()
	res := r.apply(rm, registry.Apply{
		Mutate: func(cur room.Snapshot) (room.Snapshot, bool) {
			if !room.IsHost(cur, meta.playerID) {
				denied = true
				return cur, false
			}
			return room.AdvancePhase(cur, now), true
		},
		Events: func(next room.Snapshot) []registry.Outbound {
			return []registry.Outbound{
				{Data: encode(wire.PhaseChanged(code, next.CurrentPhase, next.PhaseStartTime, next.Version))},
				{Data: encode(wire.RoomState(next))},
			}
		},
	})
	if denied {
		s.send(wire.Error(wire.ErrForbidden, "only the host can advance the phase"))
		return
	}

	r.scheduler.Schedule(res.Snapshot)
	r.audit(code, wire.EvtAdvancePhase, res.Snapshot.Version,
		map[string]any{"playerId": meta.playerID, "currentPhase": res.Snapshot.CurrentPhase})
}

func (r *Router) handleSetStatus(s *Session, ev wire.ClientEvent) {
	if ev.RoomCode == "" || ev.PlayerID == "" || ev.Status == "" {
		s.send(wire.Error(wire.ErrInvalidPayload, "set_status requires roomCode, playerId and status"))
		return
	}
	status, ok := room.ParseStatus(ev.Status)
	if !ok {
		s.send(wire.Error(wire.ErrInvalidPayload, "unknown status"))
		return
	}
	meta := s.getMeta()
	if meta == nil {
		s.send(wire.Error(wire.ErrForbidden, "not joined to a room"))
		return
	}
	rm := r.lookupRoom(ev.RoomCode)
	if rm == nil {
		s.send(wire.Error(wire.ErrRoomNotFound, "room not found"))
		return
	}

	startedAt := r.now()
	if ev.PhaseStartTime != nil {
		startedAt = *ev.PhaseStartTime
	}
	var notFound, denied bool
	res := r.apply(rm, registry.Apply{
		Mutate: func(cur room.Snapshot) (room.Snapshot, bool) {
			if _, ok := room.FindPlayer(cur, meta.playerID); !ok {
				notFound = true
				return cur, false
			}
			// Anyone may land the room on results; every other transition is
			// host-only.
			if status != room.StatusResults && !room.IsHost(cur, meta.playerID) {
				denied = true
				return cur, false
			}
			return room.SetStatus(cur, status, ev.CurrentPhase, startedAt), true
		},
		Events: func(next room.Snapshot) []registry.Outbound {
			return []registry.Outbound{
				{Data: encode(wire.StatusChanged(next))},
				{Data: encode(wire.RoomState(next))},
			}
		},
	})
	switch {
	case notFound:
		s.send(wire.Error(wire.ErrPlayerNotFound, "player not found in room"))
		return
	case denied:
		s.send(wire.Error(wire.ErrForbidden, "only the host can change the status"))
		return
	}

	r.scheduler.Schedule(res.Snapshot)
	r.audit(ev.RoomCode, wire.EvtSetStatus, res.Snapshot.Version,
		map[string]any{"playerId": meta.playerID, "status": status})
}

// handlePresentationState relays presentation UI state without touching the
// version. Missing room or actor is logged, not surfaced.
func (r *Router) handlePresentationState(s *Session, ev wire.ClientEvent) {
	meta := s.getMeta()
	if meta == nil {
		r.log.Debug("presentation_state from unjoined socket", zap.String("conn", s.id))
		return
	}
	rm := r.lookupRoom(ev.RoomCode)
	if rm == nil {
		r.log.Debug("presentation_state for unknown room", zap.String("room", ev.RoomCode))
		return
	}
	presentIndex := 0
	if ev.PresentIndex != nil {
		presentIndex = *ev.PresentIndex
	}
	showCampaign := false
	if ev.ShowCampaign != nil {
		showCampaign = *ev.ShowCampaign
	}
	r.apply(rm, registry.Apply{
		Mutate: func(cur room.Snapshot) (room.Snapshot, bool) { return cur, false },
		Always: func(next room.Snapshot) []registry.Outbound {
			if _, ok := room.FindPlayer(next, meta.playerID); !ok {
				r.log.Debug("presentation_state from player outside room",
					zap.String("room", ev.RoomCode), zap.String("player", meta.playerID))
				return nil
			}
			return []registry.Outbound{{
				Data:    encode(wire.PresentationState(ev.RoomCode, meta.playerID, presentIndex, showCampaign)),
				Exclude: s.id,
			}}
		},
	})
}

func (r *Router) handleHeartbeat(s *Session) {
	if meta := s.getMeta(); meta != nil {
		meta.touch(r.now())
	}
}

// Disconnect runs the cleanup path shared by leave_room, transport errors and
// heartbeat eviction. Safe to call more than once.
func (r *Router) Disconnect(s *Session) {
	meta := s.takeMeta()
	if meta == nil {
		return
	}
	r.teardown(s, meta)
}

// teardown detaches the socket, clears the player's ready flag (a disconnect
// never leaves a stale ready flag behind), broadcasts player_left, and
// schedules the usual persistence. The steps are independent: none of them
// rolls back another.
func (r *Router) teardown(s *Session, meta *connMeta) {
	close(meta.stop)
	meta.room.Inbox() <- registry.Detach{ClientID: s.id}

	res := r.apply(meta.room, registry.Apply{
		Mutate: func(cur room.Snapshot) (room.Snapshot, bool) {
			return room.ClearReady(cur, meta.playerID)
		},
		Always: func(next room.Snapshot) []registry.Outbound {
			return []registry.Outbound{{Data: encode(wire.PlayerLeft(meta.roomCode, meta.playerID, next.Version))}}
		},
	})

	r.scheduler.Schedule(res.Snapshot)
	r.audit(meta.roomCode, wire.EvtLeaveRoom, res.Snapshot.Version, map[string]any{"playerId": meta.playerID})
	r.log.Info("client left room",
		zap.String("room", meta.roomCode), zap.String("player", meta.playerID), zap.String("conn", s.id))
}

// monitor is the per-socket heartbeat loop: evict when the client has gone
// quiet past the timeout, otherwise push a server heartbeat carrying the
// current timestamp.
func (r *Router) monitor(s *Session, meta *connMeta) {
	t := time.NewTicker(r.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-meta.stop:
			return
		case <-t.C:
			if r.now().Sub(meta.last()) > r.heartbeatTimeout {
				r.counters.Inc("heartbeat_evictions")
				r.log.Warn("evicting silent connection",
					zap.String("room", meta.roomCode), zap.String("player", meta.playerID),
					zap.String("conn", s.id))
				s.close(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
			s.send(wire.Heartbeat(meta.roomCode, r.now()))
		}
	}
}

func (r *Router) audit(roomCode, eventType string, version int, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	r.scheduler.RecordEventAsync(roomCode, eventType, version, data)
}

func (r *Router) lookupRoom(code string) *registry.Room {
	reply := make(chan *registry.Room, 1)
	r.reg.Inbox() <- registry.GetRoom{Code: code, Reply: reply}
	return <-reply
}

func (r *Router) ensureRoom(code string, seed room.Snapshot) *registry.Room {
	reply := make(chan *registry.Room, 1)
	r.reg.Inbox() <- registry.EnsureRoom{Code: code, Seed: seed, Reply: reply}
	return <-reply
}

func (r *Router) apply(rm *registry.Room, msg registry.Apply) registry.ApplyResult {
	reply := make(chan registry.ApplyResult, 1)
	msg.Reply = reply
	rm.Inbox() <- msg
	return <-reply
}

func (r *Router) attach(rm *registry.Room, c registry.Client) room.Snapshot {
	reply := make(chan room.Snapshot, 1)
	rm.Inbox() <- registry.Attach{Client: c, Reply: reply}
	return <-reply
}

func encode(ev wire.ServerEvent) []byte {
	data, _ := json.Marshal(ev)
	return data
}
