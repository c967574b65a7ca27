// Package retention runs the background retention sweep: walking every
// live series on an interval and trimming chunks older than its
// configured retention, so expired data is reclaimed even for series
// that have stopped receiving writes (retention is otherwise only
// applied inline on write, per pkg/seriesstore).
package retention

import (
	"context"
	"log"
	"time"

	"github.com/nicktill/tinyseries/pkg/fabric"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
)

// Registry is the minimal view of an engine's series set a sweep
// needs: every live series id, and the series handle for an id.
type Registry interface {
	AllSeriesIDs() []uint32
	Series(id uint32) (*seriesstore.Series, bool)
}

// Sweeper periodically trims every series' expired chunks using a
// bounded worker pool for the fan-out.
type Sweeper struct {
	registry Registry
	pool     *fabric.Pool
	interval time.Duration

	lastErr          error
	consecutiveFails int
	lastSuccess      time.Time
}

// New creates a Sweeper that walks registry's series every interval
// using pool for parallel fan-out.
func New(registry Registry, pool *fabric.Pool, interval time.Duration) *Sweeper {
	return &Sweeper{registry: registry, pool: pool, interval: interval, lastSuccess: time.Now()}
}

// Run blocks, sweeping on every tick until ctx is cancelled. An
// initial sweep runs immediately rather than waiting for the first
// tick, mirroring the teacher's startup-compaction-then-ticker shape.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.runOnce(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sw.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UnixMilli()
	ids := sw.registry.AllSeriesIDs()

	err := sw.pool.Shard(ctx, ids, func(_ context.Context, shard []uint32) error {
		for _, id := range shard {
			s, ok := sw.registry.Series(id)
			if !ok {
				continue
			}
			s.Trim(now)
		}
		return nil
	})

	sw.lastErr = err
	if err != nil {
		sw.consecutiveFails++
		log.Printf("retention sweep failed: %v (consecutive failures: %d)", err, sw.consecutiveFails)
		return
	}
	sw.consecutiveFails = 0
	sw.lastSuccess = time.Now()
}

// LastError reports the error from the most recent sweep, if any.
func (sw *Sweeper) LastError() error { return sw.lastErr }
