package seriesstore

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/nicktill/tinyseries/pkg/chunk"
	"github.com/nicktill/tinyseries/pkg/labelset"
)

// magic/version identify a persisted Series blob; version lets future
// fields append to the tail without breaking older readers, which must
// tolerate and skip bytes past the fields they understand.
const (
	persistMagic   uint32 = 0x54534442 // "TSDB"
	persistVersion uint8  = 1
)

var errBadMagic = errors.New("seriesstore: bad persisted-state magic")
var errShortRead = errors.New("seriesstore: persisted state truncated")

// Serialize encodes the series' config and full chunk list into an
// opaque, version-tagged blob suitable for a host's disk-backed hook.
func (s *Series) Serialize() []byte {
	cfg := s.Config()
	chunks := s.Snapshot()

	out := make([]byte, 0, 64+len(chunks)*64)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], persistMagic)
	out = append(out, hdr[:]...)
	out = append(out, persistVersion)

	out = appendUint64(out, uint64(s.ID))
	out = appendInt64(out, cfg.RetentionMS)
	out = append(out, byte(cfg.Encoding))
	out = append(out, byte(cfg.DuplicatePolicy))
	out = appendUint64(out, uint64(cfg.ChunkSize))
	out = appendInt64(out, cfg.IgnoreMaxTimeDiff)
	out = appendFloat64(out, cfg.IgnoreMaxValDiff)

	out = appendUint64(out, uint64(len(chunks)))
	for _, c := range chunks {
		blob := c.Serialize()
		out = appendUint64(out, uint64(len(blob)))
		out = append(out, blob...)
	}
	return out
}

// Deserialize reconstructs a Series from a Serialize blob. Unknown
// trailing bytes past the last chunk this version understands are
// ignored rather than rejected, so newer writers can add fields and
// older readers still load what they recognize.
func Deserialize(data []byte, labels labelset.LabelSet) (*Series, error) {
	if len(data) < 5 {
		return nil, errShortRead
	}
	if binary.BigEndian.Uint32(data[0:4]) != persistMagic {
		return nil, errBadMagic
	}
	// data[4] is the version byte; this reader understands version 1's
	// layout and treats any additional trailing fields as unknown tail.
	off := 5

	id, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	retention, off, err := readInt64(data, off)
	if err != nil {
		return nil, err
	}
	if off >= len(data) {
		return nil, errShortRead
	}
	enc := chunk.Encoding(data[off])
	off++
	if off >= len(data) {
		return nil, errShortRead
	}
	policy := chunk.DuplicatePolicy(data[off])
	off++
	chunkSize, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}
	ignoreTime, off, err := readInt64(data, off)
	if err != nil {
		return nil, err
	}
	ignoreVal, off, err := readFloat64(data, off)
	if err != nil {
		return nil, err
	}
	numChunks, off, err := readUint64(data, off)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		RetentionMS:       retention,
		ChunkSize:         int(chunkSize),
		Encoding:          enc,
		DuplicatePolicy:   policy,
		IgnoreMaxTimeDiff: ignoreTime,
		IgnoreMaxValDiff:  ignoreVal,
	}

	s := New(SeriesID(id), labels, cfg)
	chunks := make([]chunk.Chunk, 0, numChunks)
	for i := uint64(0); i < numChunks; i++ {
		blobLen, next, err := readUint64(data, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off+int(blobLen) > len(data) {
			return nil, errShortRead
		}
		c, err := chunk.Deserialize(data[off:off+int(blobLen)], cfg.ChunkSize)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
		off += int(blobLen)
	}
	s.setChunksLocked(chunks)
	if n := len(chunks); n > 0 {
		last := chunks[n-1].Range(chunks[n-1].LastTS(), chunks[n-1].LastTS())
		if len(last) > 0 {
			s.setLast(last[0].TS, last[0].Val)
		}
	}
	return s, nil
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendInt64(b []byte, v int64) []byte { return appendUint64(b, uint64(v)) }

func appendFloat64(b []byte, v float64) []byte {
	return appendUint64(b, math.Float64bits(v))
}

func readUint64(data []byte, off int) (uint64, int, error) {
	if off+8 > len(data) {
		return 0, off, errShortRead
	}
	return binary.BigEndian.Uint64(data[off : off+8]), off + 8, nil
}

func readInt64(data []byte, off int) (int64, int, error) {
	v, next, err := readUint64(data, off)
	return int64(v), next, err
}

func readFloat64(data []byte, off int) (float64, int, error) {
	v, next, err := readUint64(data, off)
	return math.Float64frombits(v), next, err
}
