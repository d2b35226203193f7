// Package metrics keeps in-memory counters and periodically flushes them to
// the log. No external metrics backend is wired in; the log line is the
// operational surface.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64)}
}

func (c *Counters) Inc(name string) { c.Add(name, 1) }

func (c *Counters) Add(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counts[name] += n
	c.mu.Unlock()
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Flush writes one structured line with every counter, in stable order.
func (c *Counters) Flush(log *zap.Logger) {
	snap := c.Snapshot()
	if len(snap) == 0 {
		return
	}
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Int64(name, snap[name]))
	}
	log.Info("metrics", fields...)
}

// RunFlusher flushes on the given interval until ctx is done, then once more
// on the way out.
func (c *Counters) RunFlusher(ctx context.Context, log *zap.Logger, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Flush(log)
			return
		case <-t.C:
			c.Flush(log)
		}
	}
}
