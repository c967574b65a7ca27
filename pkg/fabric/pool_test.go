package fabric

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolSizeCapsAtMaxWorkers(t *testing.T) {
	p := New(2)
	if p.Size() != 2 {
		t.Fatalf("expected size 2, got %d", p.Size())
	}
}

func TestPoolSizeFallsBackToGOMAXPROCS(t *testing.T) {
	p := New(0)
	if p.Size() < 1 {
		t.Fatalf("expected at least 1 worker, got %d", p.Size())
	}
}

func TestShardVisitsEveryID(t *testing.T) {
	p := New(4)
	ids := make([]uint32, 100)
	for i := range ids {
		ids[i] = uint32(i)
	}

	var seen sync.Map
	err := p.Shard(context.Background(), ids, func(_ context.Context, shard []uint32) error {
		for _, id := range shard {
			seen.Store(id, true)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("shard: %v", err)
	}
	for _, id := range ids {
		if _, ok := seen.Load(id); !ok {
			t.Fatalf("id %d not visited", id)
		}
	}
}

func TestShardNeverExceedsConcurrencyCap(t *testing.T) {
	p := New(2)
	ids := make([]uint32, 20)
	for i := range ids {
		ids[i] = uint32(i)
	}

	var active, maxActive atomic.Int64
	err := p.Shard(context.Background(), ids, func(_ context.Context, shard []uint32) error {
		n := active.Add(1)
		for {
			old := maxActive.Load()
			if n <= old || maxActive.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("shard: %v", err)
	}
	if maxActive.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent shards, saw %d", maxActive.Load())
	}
}

func TestShardPropagatesFirstError(t *testing.T) {
	p := New(4)
	ids := []uint32{1, 2, 3, 4}
	boom := errBoom{}
	err := p.Shard(context.Background(), ids, func(_ context.Context, shard []uint32) error {
		if shard[0] == 3 {
			return boom
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected propagated error")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestIDAllocatorIsMonotonicAndUnique(t *testing.T) {
	a := NewIDAllocator()
	const n = 1000
	var wg sync.WaitGroup
	seen := make(chan uint32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- a.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[uint32]bool, n)
	for id := range seen {
		if ids[id] {
			t.Fatalf("duplicate id %d", id)
		}
		ids[id] = true
	}
	if len(ids) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(ids))
	}
}

func TestDeadlinePollLatchesAfterExpiry(t *testing.T) {
	d := NewDeadline(time.Now().Add(-time.Second))
	if d.Expired() {
		t.Fatal("expected not expired before first poll")
	}
	if !d.Poll() {
		t.Fatal("expected poll to detect expiry")
	}
	if !d.Expired() {
		t.Fatal("expected latched expiry")
	}
}

func TestDeadlineZeroNeverExpires(t *testing.T) {
	d := NewDeadline(time.Time{})
	if d.Poll() {
		t.Fatal("zero deadline should never expire")
	}
}

func TestMergeOrdersByID(t *testing.T) {
	results := map[uint32]string{3: "c", 1: "a", 2: "b"}
	out := Merge(results)
	if len(out) != 3 || out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("expected ordered [a b c], got %v", out)
	}
}
