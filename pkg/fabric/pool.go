// Package fabric holds the engine's concurrency pieces: a bounded worker
// pool for CPU-bound fan-out over a series set (run by the background
// retention sweeper), a process-wide series-id allocator (used by
// pkg/adapter), and a cooperative deadline flag.
package fabric

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of shards of a fan-out operation that run
// concurrently at min(GOMAXPROCS, maxWorkers), mirroring the teacher's
// context-cancellation-polling idiom but generalized from one blocking
// call to many independent shard workers.
type Pool struct {
	sem *semaphore.Weighted
	n   int64
}

// New creates a Pool sized to min(GOMAXPROCS, maxWorkers). A
// non-positive maxWorkers means "no cap beyond GOMAXPROCS".
func New(maxWorkers int) *Pool {
	n := int64(runtime.GOMAXPROCS(0))
	if maxWorkers > 0 && int64(maxWorkers) < n {
		n = int64(maxWorkers)
	}
	if n < 1 {
		n = 1
	}
	return &Pool{sem: semaphore.NewWeighted(n), n: n}
}

// Size reports the pool's worker cap.
func (p *Pool) Size() int { return int(p.n) }

// Shard splits ids into at most Size() contiguous shards of
// ceil(len(ids)/Size()) ids each (the last one may be shorter) and
// runs fn on each concurrently, bounded by the
// pool's semaphore. Returns the first error encountered, after every
// shard's goroutine has exited (errgroup cancels the group context on
// first error, but in-flight shard work still runs to completion per
// spec.md §4.8 — fn is expected to check ctx itself for early exit).
func (p *Pool) Shard(ctx context.Context, ids []uint32, fn func(ctx context.Context, shard []uint32) error) error {
	if len(ids) == 0 {
		return nil
	}
	shards := splitShards(ids, int(p.n))

	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		shard := shard
		if err := p.sem.Acquire(gctx, 1); err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return fn(gctx, shard)
		})
	}
	return g.Wait()
}

func splitShards(ids []uint32, n int) [][]uint32 {
	if n <= 0 {
		n = 1
	}
	if n > len(ids) {
		n = len(ids)
	}
	size := (len(ids) + n - 1) / n
	out := make([][]uint32, 0, n)
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
