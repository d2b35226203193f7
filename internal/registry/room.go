package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/room"
)

// Client is a socket attached to a room: the connection id, the player it
// authenticated as, and the outbox the writer goroutine drains. The registry
// references sockets, it never owns them.
type Client struct {
	ID       string
	PlayerID string
	Outbox   chan []byte
}

// Outbound is one frame to fan out, already encoded. Exclude names a client
// id to skip (typically the originator, when a more specific ack covers it).
type Outbound struct {
	Data    []byte
	Exclude string
}

type Msg interface{ isRoomMsg() }

// Attach registers a client and replies with the current snapshot, which
// becomes the client's hello_ack payload.
type Attach struct {
	Client Client
	Reply  chan room.Snapshot
}

type Detach struct{ ClientID string }

// Apply runs one serialized mutation step. Mutate is a pure transform that
// owns the version bump and reports whether anything changed; Events builds
// the frames to broadcast when it did, Always builds frames broadcast either
// way (both receive a clone of the post-step state). Everything happens
// inside the room's loop, so version order and broadcast order agree.
type Apply struct {
	Mutate func(room.Snapshot) (room.Snapshot, bool)
	Events func(room.Snapshot) []Outbound
	Always func(room.Snapshot) []Outbound
	Reply  chan ApplyResult
}

// Broadcast fans out a frame with no mutation attached.
type Broadcast struct {
	Data    []byte
	Exclude string
}

// GetView is test-only: reflect internal state without data races.
type GetView struct{ Reply chan View }

type ShutdownRoom struct{}

func (Attach) isRoomMsg()       {}
func (Detach) isRoomMsg()       {}
func (Apply) isRoomMsg()        {}
func (Broadcast) isRoomMsg()    {}
func (GetView) isRoomMsg()      {}
func (ShutdownRoom) isRoomMsg() {}

type ApplyResult struct {
	Snapshot room.Snapshot
	Changed  bool
}

type View struct {
	Snapshot   room.Snapshot
	NumClients int
}

// Room owns one room's authoritative snapshot and its attached clients. All
// access goes through the inbox; the loop goroutine is the only writer.
type Room struct {
	inbox    chan Msg
	state    room.Snapshot
	clients  map[string]Client
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
	counters *metrics.Counters
}

func newRoom(parent context.Context, initial room.Snapshot, log *zap.Logger, counters *metrics.Counters) *Room {
	ctx, cancel := context.WithCancel(parent)
	rm := &Room{
		inbox:    make(chan Msg, 64),
		state:    initial,
		clients:  make(map[string]Client),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With(zap.String("room", initial.Code)),
		counters: counters,
	}
	go rm.loop()
	return rm
}

func (rm *Room) Inbox() chan<- Msg { return rm.inbox }

func (rm *Room) loop() {
	for {
		select {
		case <-rm.ctx.Done():
			rm.shutdown()
			return

		case m := <-rm.inbox:
			switch msg := m.(type) {
			case Attach:
				rm.clients[msg.Client.ID] = msg.Client
				msg.Reply <- room.Clone(rm.state)

			case Detach:
				delete(rm.clients, msg.ClientID)

			case Apply:
				next, changed := msg.Mutate(room.Clone(rm.state))
				if changed {
					rm.state = next
				}
				snap := room.Clone(rm.state)
				if changed && msg.Events != nil {
					for _, out := range msg.Events(snap) {
						rm.fanout(out)
					}
				}
				if msg.Always != nil {
					for _, out := range msg.Always(snap) {
						rm.fanout(out)
					}
				}
				if msg.Reply != nil {
					msg.Reply <- ApplyResult{Snapshot: snap, Changed: changed}
				}

			case Broadcast:
				rm.fanout(Outbound{Data: msg.Data, Exclude: msg.Exclude})

			case GetView:
				msg.Reply <- View{Snapshot: room.Clone(rm.state), NumClients: len(rm.clients)}

			case ShutdownRoom:
				rm.shutdown()
				return
			}
		}
	}
}

// fanout is fire-and-forget: a full outbox drops the frame, never the client.
// Broken peers are reaped by the heartbeat monitor instead.
func (rm *Room) fanout(out Outbound) {
	for id, c := range rm.clients {
		if id == out.Exclude {
			continue
		}
		select {
		case c.Outbox <- out.Data:
			rm.counters.Inc("broadcast_frames_sent")
		default:
			rm.counters.Inc("broadcast_frames_dropped")
			rm.log.Debug("outbox full, dropping frame", zap.String("client", id))
		}
	}
}

func (rm *Room) shutdown() {
	clear(rm.clients)
	rm.cancel()
}
