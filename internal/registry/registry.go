// Package registry is the in-memory store of live rooms: one hub goroutine
// owning the code -> room map, and one goroutine per room owning that room's
// snapshot and attached sockets.
package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/room"
)

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	Code  string
	Reply chan *Room
}

// EnsureRoom creates the room from Seed if absent; the seed is ignored when
// the room already exists.
type EnsureRoom struct {
	Code  string
	Seed  room.Snapshot
	Reply chan *Room
}

type RemoveRoom struct{ Code string }

type ShutdownRegistry struct{ Done chan struct{} }

func (GetRoom) isHubMsg()          {}
func (EnsureRoom) isHubMsg()       {}
func (RemoveRoom) isHubMsg()       {}
func (ShutdownRegistry) isHubMsg() {}

type Registry struct {
	inbox    chan HubMsg
	rooms    map[string]*Room
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
	counters *metrics.Counters
}

func New(parent context.Context, log *zap.Logger, counters *metrics.Counters) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:    make(chan HubMsg, 64),
		rooms:    make(map[string]*Room),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
		counters: counters,
	}
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- HubMsg { return r.inbox }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown(nil)
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- r.rooms[msg.Code] // may be nil

			case EnsureRoom:
				if rm := r.rooms[msg.Code]; rm != nil {
					msg.Reply <- rm
					break
				}
				rm := newRoom(r.ctx, msg.Seed, r.log, r.counters)
				r.rooms[msg.Code] = rm
				r.counters.Inc("rooms_created")
				r.log.Info("room created", zap.String("room", msg.Code), zap.Int("version", msg.Seed.Version))
				msg.Reply <- rm

			case RemoveRoom:
				if rm := r.rooms[msg.Code]; rm != nil {
					rm.Inbox() <- ShutdownRoom{}
					delete(r.rooms, msg.Code)
				}

			case ShutdownRegistry:
				r.shutdown(msg.Done)
				return
			}
		}
	}
}

func (r *Registry) shutdown(done chan struct{}) {
	for _, rm := range r.rooms {
		rm.Inbox() <- ShutdownRoom{}
	}
	clear(r.rooms)
	r.cancel()
	if done != nil {
		close(done)
	}
}
