package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/room"
)

const persistTimeout = 5 * time.Second

// Scheduler debounces snapshot writes: the first Schedule for a room arms one
// timer, later calls within the window replace the pending snapshot without
// touching the timer, so a burst of mutations lands as a single write carrying
// the final state. Failures are logged and counted, never surfaced; realtime
// consistency between sockets outranks immediate durability.
type Scheduler struct {
	mu       sync.Mutex
	pending  map[string]*pendingWrite
	delay    time.Duration
	p        Persister
	log      *zap.Logger
	counters *metrics.Counters
}

type pendingWrite struct {
	snap  room.Snapshot
	timer *time.Timer
}

func NewScheduler(p Persister, delay time.Duration, log *zap.Logger, counters *metrics.Counters) *Scheduler {
	s := &Scheduler{
		pending:  make(map[string]*pendingWrite),
		delay:    delay,
		p:        p,
		log:      log,
		counters: counters,
	}
	return s
}

// Schedule records snap as the room's pending write. The timer is armed only
// on the first call per window; repeats just swap the payload.
func (s *Scheduler) Schedule(snap room.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[snap.Code]; ok {
		e.snap = snap
		return
	}
	e := &pendingWrite{snap: snap}
	code := snap.Code
	e.timer = time.AfterFunc(s.delay, func() { s.fire(code) })
	s.pending[code] = e
}

func (s *Scheduler) fire(code string) {
	s.mu.Lock()
	e, ok := s.pending[code]
	if ok {
		delete(s.pending, code)
	}
	s.mu.Unlock()
	if !ok {
		return // flushed by Shutdown before the timer ran
	}
	s.persist(context.Background(), e.snap)
}

func (s *Scheduler) persist(ctx context.Context, snap room.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.p.SaveSnapshot(ctx, snap); err != nil {
		s.counters.Inc("snapshot_persist_failed")
		s.log.Error("snapshot persist failed",
			zap.String("room", snap.Code), zap.Int("version", snap.Version), zap.Error(err))
		return
	}
	s.counters.Inc("snapshot_persist_ok")
}

// RecordEventAsync appends an audit row from a detached goroutine. Best
// effort: a failure is logged and counted, the caller never learns about it.
func (s *Scheduler) RecordEventAsync(roomCode, eventType string, version int, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.p.RecordEvent(ctx, roomCode, eventType, version, payload); err != nil {
			s.counters.Inc("audit_record_failed")
			s.log.Error("audit record failed",
				zap.String("room", roomCode), zap.String("event", eventType), zap.Error(err))
		}
	}()
}

// Shutdown cancels every pending timer and persists the latest snapshots
// synchronously, bounded by ctx. Used on graceful shutdown so the last
// mutation before exit isn't lost.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	snaps := make([]room.Snapshot, 0, len(s.pending))
	for code, e := range s.pending {
		e.timer.Stop()
		// If the timer already fired, its goroutine is parked on the mutex
		// and will find the entry gone; the write happens here either way.
		snaps = append(snaps, e.snap)
		delete(s.pending, code)
	}
	s.mu.Unlock()
	for _, snap := range snaps {
		if ctx.Err() != nil {
			s.log.Warn("shutdown flush aborted", zap.Int("unflushed", len(snaps)))
			return
		}
		s.persist(ctx, snap)
	}
}
