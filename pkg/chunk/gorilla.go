package chunk

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"
)

const tagGorilla byte = 1

var errUnknownTag = errors.New("chunk: unknown encoding tag")
var errTruncated = errors.New("chunk: truncated data")

// gorillaChunk implements the Facebook-Gorilla-style codec: delta-of-delta
// timestamps and XOR'd values, both under a variable-length prefix code.
//
// The codec state (prevTS/prevDelta/prevVal/prevLeading/prevTrailing) lets
// Push append in O(1) amortized without redecoding the bitstream; Range,
// TrimBefore and Serialize decode the whole run, since a chunk's byte
// budget bounds how much work that is.
type gorillaChunk struct {
	maxSize int
	round   Rounding

	bw    *bitWriter
	count int

	firstTS, lastTS int64

	prevTS        int64
	prevDelta     int64
	prevVal       uint64
	prevLeading   uint8
	prevTrailing  uint8
	havePrevDelta bool
}

func newGorillaChunk(maxSize int, round Rounding) *gorillaChunk {
	return &gorillaChunk{maxSize: maxSize, round: round, bw: newBitWriter()}
}

func (c *gorillaChunk) FirstTS() int64    { return c.firstTS }
func (c *gorillaChunk) LastTS() int64     { return c.lastTS }
func (c *gorillaChunk) Count() int        { return c.count }
func (c *gorillaChunk) MaxSize() int      { return c.maxSize }
func (c *gorillaChunk) Encoding() Encoding { return Compressed }
func (c *gorillaChunk) Size() int         { return c.bw.len() }

func (c *gorillaChunk) Push(ts int64, v float64) PushResult {
	if c.count > 0 {
		if ts < c.lastTS {
			return OutOfOrder
		}
		if ts == c.lastTS {
			return Duplicate
		}
	}
	v = c.round.apply(v)

	savedBitN := c.bw.bitN
	savedBuf := append([]byte(nil), c.bw.buf...)
	savedLeading, savedTrailing := c.prevLeading, c.prevTrailing

	if c.count == 0 {
		c.bw.writeBits(uint64(ts), 64)
		c.bw.writeBits(math.Float64bits(v), 64)
	} else {
		c.writeDelta(ts)
		c.writeValue(v)
	}

	if c.bw.len() > c.maxSize {
		c.bw.buf = savedBuf
		c.bw.bitN = savedBitN
		c.prevLeading, c.prevTrailing = savedLeading, savedTrailing
		return Full
	}

	if c.count == 0 {
		c.firstTS = ts
		c.prevVal = math.Float64bits(v)
	} else {
		delta := ts - c.prevTS
		if c.havePrevDelta {
			c.prevDelta = delta
		} else {
			c.prevDelta = delta
			c.havePrevDelta = true
		}
		c.prevVal = math.Float64bits(v)
	}
	c.prevTS = ts
	c.lastTS = ts
	c.count++
	return Added
}

// writeDelta encodes ts's delta-of-delta against the running prevDelta,
// using the prefix code {0 | 10±7b | 110±9b | 1110±12b | 1111±32b}. Each
// bounded window is stored as a biased unsigned offset (dod-min in that
// window), not two's complement, since the windows are asymmetric.
func (c *gorillaChunk) writeDelta(ts int64) {
	delta := ts - c.prevTS
	dod := delta - c.prevDelta

	switch {
	case dod == 0:
		c.bw.writeBits(0, 1)
	case dod >= -63 && dod <= 64:
		c.bw.writeBits(0b10, 2)
		c.bw.writeBits(uint64(dod+63), 7)
	case dod >= -255 && dod <= 256:
		c.bw.writeBits(0b110, 3)
		c.bw.writeBits(uint64(dod+255), 9)
	case dod >= -2047 && dod <= 2048:
		c.bw.writeBits(0b1110, 4)
		c.bw.writeBits(uint64(dod+2047), 12)
	default:
		c.bw.writeBits(0b1111, 4)
		c.bw.writeBits(uint64(uint32(dod)), 32)
	}
}

// writeValue XORs v against the previous value and encodes the result as
// {0 | 10 + prev window | 11 + leading5 + len6 + window}.
func (c *gorillaChunk) writeValue(v float64) {
	bits64 := math.Float64bits(v)
	xor := bits64 ^ c.prevVal
	if xor == 0 {
		c.bw.writeBits(0, 1)
		return
	}
	lead := uint8(bits.LeadingZeros64(xor))
	trail := uint8(bits.TrailingZeros64(xor))
	if lead > 31 {
		lead = 31
	}

	if c.prevLeading != 0 || c.prevTrailing != 0 {
		if lead >= c.prevLeading && trail >= c.prevTrailing {
			window := 64 - int(c.prevLeading) - int(c.prevTrailing)
			c.bw.writeBits(0b10, 2)
			c.bw.writeBits(xor>>uint(c.prevTrailing), window)
			return
		}
	}

	c.bw.writeBits(0b11, 2)
	c.bw.writeBits(uint64(lead), 5)
	meaningful := 64 - int(lead) - int(trail)
	c.bw.writeBits(uint64(meaningful-1), 6)
	c.bw.writeBits(xor>>uint(trail), meaningful)
	c.prevLeading, c.prevTrailing = lead, trail
}

func (c *gorillaChunk) Upsert(ts int64, v float64, policy DuplicatePolicy) UpsertResult {
	return genericUpsert(c, ts, v, policy)
}

func (c *gorillaChunk) decodeAll() []Sample {
	if c.count == 0 {
		return nil
	}
	out := make([]Sample, 0, c.count)
	r := newBitReader(c.bw.buf)

	tsBits, _ := r.readBits(64)
	ts := int64(tsBits)
	vBits, _ := r.readBits(64)
	v := math.Float64frombits(vBits)
	out = append(out, Sample{TS: ts, Val: v})

	prevTS := ts
	prevDelta := int64(0)
	prevVal := vBits
	var prevLeading, prevTrailing uint8

	for i := 1; i < c.count; i++ {
		dod, ok := readDod(r)
		if !ok {
			break
		}
		delta := prevDelta + dod
		ts = prevTS + delta
		prevDelta = delta
		prevTS = ts

		newVal, newLead, newTrail, ok := readValue(r, prevVal, prevLeading, prevTrailing)
		if !ok {
			break
		}
		prevVal = newVal
		prevLeading, prevTrailing = newLead, newTrail
		out = append(out, Sample{TS: ts, Val: math.Float64frombits(newVal)})
	}
	return out
}

func readDod(r *bitReader) (int64, bool) {
	b, ok := r.readBit()
	if !ok {
		return 0, false
	}
	if b == 0 {
		return 0, true
	}
	b, ok = r.readBit()
	if !ok {
		return 0, false
	}
	if b == 0 {
		v, ok := r.readBits(7)
		if !ok {
			return 0, false
		}
		return int64(v) - 63, true
	}
	b, ok = r.readBit()
	if !ok {
		return 0, false
	}
	if b == 0 {
		v, ok := r.readBits(9)
		if !ok {
			return 0, false
		}
		return int64(v) - 255, true
	}
	b, ok = r.readBit()
	if !ok {
		return 0, false
	}
	if b == 0 {
		v, ok := r.readBits(12)
		if !ok {
			return 0, false
		}
		return int64(v) - 2047, true
	}
	v, ok := r.readBits(32)
	if !ok {
		return 0, false
	}
	return int64(int32(uint32(v))), true
}

func readValue(r *bitReader, prevVal uint64, prevLeading, prevTrailing uint8) (newVal uint64, lead, trail uint8, ok bool) {
	b, ok := r.readBit()
	if !ok {
		return 0, 0, 0, false
	}
	if b == 0 {
		return prevVal, prevLeading, prevTrailing, true
	}
	b2, ok := r.readBit()
	if !ok {
		return 0, 0, 0, false
	}
	if b2 == 0 {
		window := 64 - int(prevLeading) - int(prevTrailing)
		bitsv, ok := r.readBits(window)
		if !ok {
			return 0, 0, 0, false
		}
		xor := bitsv << uint(prevTrailing)
		return prevVal ^ xor, prevLeading, prevTrailing, true
	}
	leadBits, ok := r.readBits(5)
	if !ok {
		return 0, 0, 0, false
	}
	lenBits, ok := r.readBits(6)
	if !ok {
		return 0, 0, 0, false
	}
	meaningful := int(lenBits) + 1
	leadU := uint8(leadBits)
	trailU := uint8(64 - int(leadU) - meaningful)
	bitsv, ok := r.readBits(meaningful)
	if !ok {
		return 0, 0, 0, false
	}
	xor := bitsv << uint(trailU)
	return prevVal ^ xor, leadU, trailU, true
}

func (c *gorillaChunk) Range(from, to int64) []Sample {
	all := c.decodeAll()
	return filterRange(all, from, to)
}

func (c *gorillaChunk) Split() (Chunk, Chunk) {
	right := newGorillaChunk(c.maxSize, c.round)
	return c, right
}

func (c *gorillaChunk) TrimBefore(cutoff int64) int {
	all := c.decodeAll()
	kept := all[:0:0]
	removed := 0
	for _, s := range all {
		if s.TS < cutoff {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	if removed == 0 {
		return 0
	}
	c.reset()
	for _, s := range kept {
		c.Push(s.TS, s.Val)
	}
	return removed
}

func (c *gorillaChunk) reset() {
	c.bw = newBitWriter()
	c.count = 0
	c.firstTS = 0
	c.lastTS = 0
	c.prevTS = 0
	c.prevDelta = 0
	c.prevVal = 0
	c.prevLeading = 0
	c.prevTrailing = 0
	c.havePrevDelta = false
}

func (c *gorillaChunk) Serialize() []byte {
	out := make([]byte, 0, c.bw.len()+32)
	out = append(out, tagGorilla)
	var hdr [28]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(c.maxSize))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(c.count))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(c.firstTS))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(c.lastTS))
	binary.BigEndian.PutUint32(hdr[24:28], uint32(c.bw.len()))
	out = append(out, hdr[:]...)
	out = append(out, c.bw.buf...)
	return out
}

func deserializeGorilla(data []byte, fallbackMaxSize int) (Chunk, error) {
	if len(data) < 1+28 {
		return nil, errTruncated
	}
	body := data[1:]
	maxSize := int(binary.BigEndian.Uint32(body[0:4]))
	count := int(binary.BigEndian.Uint32(body[4:8]))
	firstTS := int64(binary.BigEndian.Uint64(body[8:16]))
	lastTS := int64(binary.BigEndian.Uint64(body[16:24]))
	bwLen := int(binary.BigEndian.Uint32(body[24:28]))
	rest := body[28:]
	if len(rest) < bwLen {
		return nil, errTruncated
	}
	if maxSize == 0 {
		maxSize = fallbackMaxSize
	}

	c := newGorillaChunk(maxSize, Rounding{})
	c.bw.buf = append([]byte(nil), rest[:bwLen]...)
	c.count = count
	c.firstTS = firstTS
	c.lastTS = lastTS

	// Recover streaming codec state so further Push calls append correctly,
	// by replaying the decode once.
	if count > 0 {
		all := c.decodeAll()
		if len(all) != count {
			return nil, errTruncated
		}
		c.prevTS = all[len(all)-1].TS
		c.havePrevDelta = len(all) >= 2
		if len(all) >= 2 {
			c.prevDelta = all[len(all)-1].TS - all[len(all)-2].TS
		}
		c.prevVal = math.Float64bits(all[len(all)-1].Val)
	}
	return c, nil
}

func filterRange(all []Sample, from, to int64) []Sample {
	out := make([]Sample, 0, len(all))
	for _, s := range all {
		if s.TS >= from && s.TS <= to {
			out = append(out, s)
		}
	}
	return out
}

// genericUpsert is shared by both chunk encodings: it rebuilds the affected
// neighborhood through decode/filter/Push rather than patching bits in
// place, since same-timestamp folds are rare relative to appends.
func genericUpsert(c Chunk, ts int64, v float64, policy DuplicatePolicy) UpsertResult {
	if ts > c.LastTS() || c.Count() == 0 {
		res := c.Push(ts, v)
		if res == Added {
			return UpsertAdded
		}
		return UpsertIgnored
	}

	all := c.Range(c.FirstTS(), c.LastTS())
	idx := -1
	for i, s := range all {
		if s.TS == ts {
			idx = i
			break
		}
	}
	if idx < 0 {
		return UpsertIgnored
	}

	existing := all[idx].Val
	folded, changed := fold(existing, v, policy)
	if !changed {
		return UpsertIgnored
	}
	all[idx].Val = folded
	rebuildInto(c, all)
	return UpsertUpdated
}

func fold(existing, incoming float64, policy DuplicatePolicy) (float64, bool) {
	switch policy {
	case PolicyBlock:
		return existing, false
	case PolicyFirst:
		return existing, false
	case PolicyLast:
		return incoming, true
	case PolicyMin:
		if incoming < existing {
			return incoming, true
		}
		return existing, false
	case PolicyMax:
		if incoming > existing {
			return incoming, true
		}
		return existing, false
	case PolicySum:
		return existing + incoming, true
	default:
		return existing, false
	}
}

func rebuildInto(c Chunk, samples []Sample) {
	switch t := c.(type) {
	case *gorillaChunk:
		round := t.round
		t.reset()
		for _, s := range samples {
			t.Push(s.TS, round.apply(s.Val))
		}
	case *uncompressedChunk:
		t.ts = t.ts[:0]
		t.vals = t.vals[:0]
		for _, s := range samples {
			t.Push(s.TS, s.Val)
		}
	}
}
