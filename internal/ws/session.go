package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/registry"
	"github.com/pitchparty/realtime-server/internal/wire"
)

const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
)

// connMeta exists from a successful join_room until disconnect: which room
// the socket is attached to, who it authenticated as, and its liveness clock.
// Exactly one per live socket.
type connMeta struct {
	roomCode string
	playerID string
	room     *registry.Room
	stop     chan struct{} // closes the heartbeat monitor

	mu            sync.Mutex
	lastHeartbeat time.Time
}

func (m *connMeta) touch(now time.Time) {
	m.mu.Lock()
	m.lastHeartbeat = now
	m.mu.Unlock()
}

func (m *connMeta) last() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeat
}

// Session is one socket's server-side state. The reader goroutine is the only
// caller of dispatch; the writer goroutine drains the outbox; the heartbeat
// monitor only reads meta and pushes frames.
type Session struct {
	id     string
	conn   *websocket.Conn // nil in tests; send still works via the outbox
	outbox chan []byte
	log    *zap.Logger

	mu   sync.Mutex
	meta *connMeta
}

func newSession(id string, conn *websocket.Conn, log *zap.Logger) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		log:    log.With(zap.String("conn", id)),
	}
}

// send queues an event for the writer. Fire-and-forget: a full outbox drops
// the frame rather than blocking the caller.
func (s *Session) send(ev wire.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("marshal server event", zap.String("event", ev.Type), zap.Error(err))
		return
	}
	s.sendRaw(data)
}

func (s *Session) sendRaw(data []byte) {
	select {
	case s.outbox <- data:
	default:
		s.log.Debug("session outbox full, dropping frame")
	}
}

func (s *Session) setMeta(m *connMeta) {
	s.mu.Lock()
	s.meta = m
	s.mu.Unlock()
}

func (s *Session) getMeta() *connMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// takeMeta detaches and returns the meta so the disconnect path runs at most
// once per attachment.
func (s *Session) takeMeta() *connMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meta
	s.meta = nil
	return m
}

// writeLoop drains the outbox onto the wire. It exits when ctx is canceled;
// the outbox itself is never closed, so a late broadcast from a room loop can
// never panic on a closed channel.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	if s.conn != nil {
		_ = s.conn.Close(code, reason)
	}
}
