// Package seriesstore implements the per-series ordered chunk list:
// retention trimming, duplicate-policy folding, the IGNORE filter, and
// persisted-state serialization.
package seriesstore

import "github.com/nicktill/tinyseries/pkg/chunk"

// Config holds a series' mutable write-path configuration.
type Config struct {
	RetentionMS      int64
	ChunkSize        int
	Encoding         chunk.Encoding
	DuplicatePolicy  chunk.DuplicatePolicy
	IgnoreMaxTimeDiff int64 // 0 disables the IGNORE filter
	IgnoreMaxValDiff  float64
	Rounding         chunk.Rounding
}

// DefaultConfig mirrors the engine-wide defaults named in the command
// surface (no RETENTION means series never trim, chunk size 4096B,
// compressed encoding, BLOCK duplicate policy).
func DefaultConfig() Config {
	return Config{
		RetentionMS:     0,
		ChunkSize:       chunk.DefaultMaxSize,
		Encoding:        chunk.Compressed,
		DuplicatePolicy: chunk.PolicyBlock,
	}
}

// ConfigDelta carries only the fields an ALTER call wants to change.
type ConfigDelta struct {
	RetentionMS       *int64
	DuplicatePolicy   *chunk.DuplicatePolicy
	IgnoreMaxTimeDiff *int64
	IgnoreMaxValDiff  *float64
	Rounding          *chunk.Rounding
	ChunkSize         *int
}
