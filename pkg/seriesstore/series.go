package seriesstore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nicktill/tinyseries/pkg/chunk"
	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// SeriesID is a process-unique, monotonically assigned series identifier.
// Densely allocated uint32 so the inverted index's roaring-bitmap
// postings (which are natively uint32-keyed) compress well.
type SeriesID uint32

// AddOutcome reports the result of a single explicit ADD.
type AddOutcome int

const (
	AddAccepted AddOutcome = iota
	AddBlocked
	AddIgnored
)

// Series owns an ordered, contiguous list of chunks for one datastore key.
//
// Writers are expected to be serialized by the host's per-key lock (spec.md
// §4.8); the internal mutex exists as a defense-in-depth guard and to
// protect the config fields from concurrent ALTER. Readers load the chunk
// list through an atomic pointer so a RANGE/QUERY scan sees a stable
// snapshot even if a writer appends mid-scan — no reader lock required.
type Series struct {
	ID     SeriesID
	Labels labelset.LabelSet

	writeMu sync.Mutex
	chunks  atomic.Pointer[[]chunk.Chunk]

	cfgMu sync.RWMutex
	cfg   Config

	lastMu sync.RWMutex
	last   *chunk.Sample
}

// New creates an empty series ready to accept writes.
func New(id SeriesID, labels labelset.LabelSet, cfg Config) *Series {
	s := &Series{ID: id, Labels: labels, cfg: cfg}
	empty := []chunk.Chunk{}
	s.chunks.Store(&empty)
	return s
}

// Snapshot returns the chunk list as of this call; it remains valid and
// stable even as concurrent writers append further chunks.
func (s *Series) Snapshot() []chunk.Chunk {
	return *s.chunks.Load()
}

// Config returns a copy of the series' current write configuration.
func (s *Series) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// LastSample returns the most recently accepted sample, if any.
func (s *Series) LastSample() (chunk.Sample, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return chunk.Sample{}, false
	}
	return *s.last, true
}

// Add appends a single sample, applying retention trim, the IGNORE
// filter, and the series' duplicate policy. now is the wall-clock time
// (ms) used to evaluate retention; it is supplied by the caller rather
// than read internally so store logic stays deterministic and testable.
func (s *Series) Add(now, ts int64, v float64) (int64, AddOutcome, error) {
	if ts < 0 {
		return 0, AddIgnored, tserr.New(tserr.ConstraintViolation, "timestamp must be >= 0, got %d", ts)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Config()
	return s.addWithConfig(now, ts, v, cfg)
}

// Trim runs the same retention cutoff Add applies inline on every
// write, without requiring a new sample. pkg/retention's background
// sweeper calls this so expired chunks are reclaimed even for series
// that have stopped receiving writes.
func (s *Series) Trim(now int64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.trimRetentionLocked(now, s.Config())
}

// addWithConfig is Add's body, callable either directly (Add acquires
// writeMu itself) or from Ingest, which already holds writeMu for the
// whole batch.
func (s *Series) addWithConfig(now, ts int64, v float64, cfg Config) (int64, AddOutcome, error) {
	s.trimRetentionLocked(now, cfg)

	if last, ok := s.LastSample(); ok && cfg.IgnoreMaxTimeDiff > 0 {
		dt := ts - last.TS
		if dt < 0 {
			dt = -dt
		}
		dv := v - last.Val
		if dv < 0 {
			dv = -dv
		}
		if dt <= cfg.IgnoreMaxTimeDiff && dv <= cfg.IgnoreMaxValDiff {
			return 0, AddIgnored, nil
		}
	}

	chunks := s.Snapshot()
	if len(chunks) == 0 {
		nc := chunk.New(cfg.Encoding, cfg.ChunkSize, cfg.Rounding)
		chunks = append(chunks, nc)
		s.setChunksLocked(chunks)
	}

	tail := chunks[len(chunks)-1]
	res := tail.Push(ts, v)
	switch res {
	case chunk.Added:
		s.setLast(ts, v)
		return ts, AddAccepted, nil
	case chunk.Full:
		_, right := tail.Split()
		chunks = append(chunks, right)
		s.setChunksLocked(chunks)
		res2 := right.Push(ts, v)
		if res2 != chunk.Added {
			return 0, AddIgnored, tserr.New(tserr.Internal, "new chunk rejected first push: %v", res2)
		}
		s.setLast(ts, v)
		return ts, AddAccepted, nil
	case chunk.Duplicate:
		return s.resolveDuplicate(tail, ts, v, cfg.DuplicatePolicy)
	case chunk.OutOfOrder:
		return s.upsertIntoOwningChunk(chunks, ts, v, cfg.DuplicatePolicy)
	default:
		return 0, AddIgnored, tserr.New(tserr.Internal, "unexpected push result %v", res)
	}
}

func (s *Series) resolveDuplicate(c chunk.Chunk, ts int64, v float64, policy chunk.DuplicatePolicy) (int64, AddOutcome, error) {
	if policy == chunk.PolicyBlock {
		return 0, AddBlocked, tserr.New(tserr.DuplicateBlocked, "sample at ts %d already exists", ts)
	}
	res := c.Upsert(ts, v, policy)
	if res == chunk.UpsertIgnored {
		return 0, AddIgnored, nil
	}
	s.setLast(ts, v)
	return ts, AddAccepted, nil
}

// upsertIntoOwningChunk handles an out-of-order write: find the chunk
// whose range covers ts and fold it there per the duplicate policy.
func (s *Series) upsertIntoOwningChunk(chunks []chunk.Chunk, ts int64, v float64, policy chunk.DuplicatePolicy) (int64, AddOutcome, error) {
	idx := sort.Search(len(chunks), func(i int) bool { return chunks[i].LastTS() >= ts })
	if idx == len(chunks) {
		idx = len(chunks) - 1
	}
	target := chunks[idx]
	if ts < target.FirstTS() && idx > 0 {
		target = chunks[idx-1]
	}
	if policy == chunk.PolicyBlock {
		return 0, AddBlocked, tserr.New(tserr.DuplicateBlocked, "out-of-order sample at ts %d under BLOCK policy", ts)
	}
	res := target.Upsert(ts, v, policy)
	if res == chunk.UpsertIgnored {
		return 0, AddIgnored, nil
	}
	return ts, AddAccepted, nil
}

func (s *Series) setLast(ts int64, v float64) {
	s.lastMu.Lock()
	s.last = &chunk.Sample{TS: ts, Val: v}
	s.lastMu.Unlock()
}

func (s *Series) setChunksLocked(chunks []chunk.Chunk) {
	cp := append([]chunk.Chunk(nil), chunks...)
	s.chunks.Store(&cp)
}

// trimRetentionLocked drops whole chunks that fall entirely before the
// retention cutoff, then trims any remaining leading samples out of the
// oldest surviving chunk so retention takes effect at sample, not just
// chunk, granularity. Called with writeMu held.
func (s *Series) trimRetentionLocked(now int64, cfg Config) {
	if cfg.RetentionMS <= 0 {
		return
	}
	cutoff := now - cfg.RetentionMS
	chunks := s.Snapshot()
	i := 0
	for i < len(chunks) && chunks[i].LastTS() < cutoff {
		i++
	}
	if i == len(chunks) {
		if i > 0 {
			s.setChunksLocked(nil)
		}
		return
	}

	changed := i > 0
	remaining := append([]chunk.Chunk(nil), chunks[i:]...)
	if remaining[0].FirstTS() < cutoff {
		// Older, already-sealed chunks are treated as immutable by
		// concurrent readers, so trim by building a replacement rather
		// than mutating the shared chunk in place.
		old := remaining[0]
		all := old.Range(cutoff, old.LastTS())
		nc := chunk.New(old.Encoding(), old.MaxSize(), cfg.Rounding)
		for _, sm := range all {
			nc.Push(sm.TS, sm.Val)
		}
		if nc.Count() > 0 {
			remaining[0] = nc
		} else {
			remaining = remaining[1:]
		}
		changed = true
	}
	if !changed {
		return
	}
	s.setChunksLocked(remaining)
}

// Range returns samples in [from, to] across the contiguous chunk list.
func (s *Series) Range(from, to int64) []chunk.Sample {
	chunks := s.Snapshot()
	lo := sort.Search(len(chunks), func(i int) bool { return chunks[i].LastTS() >= from })
	var out []chunk.Sample
	for i := lo; i < len(chunks) && chunks[i].FirstTS() <= to; i++ {
		out = append(out, chunks[i].Range(from, to)...)
	}
	return out
}

// Del removes samples in the closed range [from, to], returning the count
// removed. Whole chunks covered by the range are dropped outright; a
// chunk only partially covered is decoded, filtered, and rebuilt.
func (s *Series) Del(from, to int64) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	chunks := s.Snapshot()
	cfg := s.Config()
	kept := make([]chunk.Chunk, 0, len(chunks))
	removed := 0

	for _, c := range chunks {
		switch {
		case c.FirstTS() >= from && c.LastTS() <= to:
			removed += c.Count()
		case c.LastTS() < from || c.FirstTS() > to:
			kept = append(kept, c)
		default:
			all := c.Range(c.FirstTS(), c.LastTS())
			nc := chunk.New(c.Encoding(), c.MaxSize(), cfg.Rounding)
			for _, sm := range all {
				if sm.TS >= from && sm.TS <= to {
					removed++
					continue
				}
				nc.Push(sm.TS, sm.Val)
			}
			if nc.Count() > 0 {
				kept = append(kept, nc)
			}
		}
	}
	s.setChunksLocked(kept)
	return removed
}

// Alter applies a config delta. Encoding is immutable once the first
// chunk has been created (spec.md §4.3).
func (s *Series) Alter(delta ConfigDelta) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if delta.RetentionMS != nil {
		s.cfg.RetentionMS = *delta.RetentionMS
	}
	if delta.ChunkSize != nil {
		s.cfg.ChunkSize = *delta.ChunkSize
	}
	if delta.DuplicatePolicy != nil {
		s.cfg.DuplicatePolicy = *delta.DuplicatePolicy
	}
	if delta.IgnoreMaxTimeDiff != nil {
		s.cfg.IgnoreMaxTimeDiff = *delta.IgnoreMaxTimeDiff
	}
	if delta.IgnoreMaxValDiff != nil {
		s.cfg.IgnoreMaxValDiff = *delta.IgnoreMaxValDiff
	}
	if delta.Rounding != nil {
		s.cfg.Rounding = *delta.Rounding
	}
	return nil
}

// Stats reports a rough per-series footprint for the STATS command.
type Stats struct {
	ChunkCount  int
	SampleCount int
	Bytes       int
}

func (s *Series) Stats() Stats {
	chunks := s.Snapshot()
	var st Stats
	st.ChunkCount = len(chunks)
	for _, c := range chunks {
		st.SampleCount += c.Count()
		st.Bytes += c.Size()
	}
	return st
}
