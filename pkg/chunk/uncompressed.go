package chunk

import (
	"encoding/binary"
	"math"
	"sort"
)

const tagUncompressed byte = 2

// uncompressedChunk stores two contiguous parallel arrays and supports
// O(log n) binary search on timestamps, trading memory for simplicity
// relative to the Gorilla encoding.
type uncompressedChunk struct {
	maxSize int
	round   Rounding
	ts      []int64
	vals    []float64
}

func newUncompressedChunk(maxSize int, round Rounding) *uncompressedChunk {
	return &uncompressedChunk{maxSize: maxSize, round: round}
}

func (c *uncompressedChunk) FirstTS() int64 {
	if len(c.ts) == 0 {
		return 0
	}
	return c.ts[0]
}

func (c *uncompressedChunk) LastTS() int64 {
	if len(c.ts) == 0 {
		return 0
	}
	return c.ts[len(c.ts)-1]
}

func (c *uncompressedChunk) Count() int         { return len(c.ts) }
func (c *uncompressedChunk) MaxSize() int       { return c.maxSize }
func (c *uncompressedChunk) Encoding() Encoding { return Uncompressed }
func (c *uncompressedChunk) Size() int          { return len(c.ts)*16 + 1 }

func (c *uncompressedChunk) Push(ts int64, v float64) PushResult {
	if len(c.ts) > 0 {
		last := c.ts[len(c.ts)-1]
		if ts < last {
			return OutOfOrder
		}
		if ts == last {
			return Duplicate
		}
	}
	if c.Size()+16 > c.maxSize && len(c.ts) > 0 {
		return Full
	}
	c.ts = append(c.ts, ts)
	c.vals = append(c.vals, c.round.apply(v))
	return Added
}

func (c *uncompressedChunk) Upsert(ts int64, v float64, policy DuplicatePolicy) UpsertResult {
	return genericUpsert(c, ts, v, policy)
}

func (c *uncompressedChunk) Range(from, to int64) []Sample {
	lo := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] >= from })
	out := make([]Sample, 0, len(c.ts)-lo)
	for i := lo; i < len(c.ts) && c.ts[i] <= to; i++ {
		out = append(out, Sample{TS: c.ts[i], Val: c.vals[i]})
	}
	return out
}

func (c *uncompressedChunk) Split() (Chunk, Chunk) {
	right := newUncompressedChunk(c.maxSize, c.round)
	return c, right
}

func (c *uncompressedChunk) TrimBefore(cutoff int64) int {
	lo := sort.Search(len(c.ts), func(i int) bool { return c.ts[i] >= cutoff })
	if lo == 0 {
		return 0
	}
	c.ts = append(c.ts[:0], c.ts[lo:]...)
	c.vals = append(c.vals[:0], c.vals[lo:]...)
	return lo
}

func (c *uncompressedChunk) Serialize() []byte {
	out := make([]byte, 0, 1+4+4+len(c.ts)*16)
	out = append(out, tagUncompressed)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(c.maxSize))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(c.ts)))
	out = append(out, hdr[:]...)
	var buf [8]byte
	for i := range c.ts {
		binary.BigEndian.PutUint64(buf[:], uint64(c.ts[i]))
		out = append(out, buf[:]...)
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(c.vals[i]))
		out = append(out, buf[:]...)
	}
	return out
}

func deserializeUncompressed(data []byte, fallbackMaxSize int) (Chunk, error) {
	if len(data) < 1+8 {
		return nil, errTruncated
	}
	body := data[1:]
	maxSize := int(binary.BigEndian.Uint32(body[0:4]))
	count := int(binary.BigEndian.Uint32(body[4:8]))
	if maxSize == 0 {
		maxSize = fallbackMaxSize
	}
	rest := body[8:]
	if len(rest) < count*16 {
		return nil, errTruncated
	}

	c := newUncompressedChunk(maxSize, Rounding{})
	c.ts = make([]int64, count)
	c.vals = make([]float64, count)
	off := 0
	for i := 0; i < count; i++ {
		c.ts[i] = int64(binary.BigEndian.Uint64(rest[off : off+8]))
		off += 8
		c.vals[i] = math.Float64frombits(binary.BigEndian.Uint64(rest[off : off+8]))
		off += 8
	}
	return c, nil
}
