package adapter

import (
	"strings"

	"github.com/nicktill/tinyseries/pkg/chunk"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// ParseEncoding maps a CREATE/ALTER ENCODING token to chunk.Encoding.
func ParseEncoding(s string) (chunk.Encoding, error) {
	switch strings.ToUpper(s) {
	case "COMPRESSED", "":
		return chunk.Compressed, nil
	case "UNCOMPRESSED":
		return chunk.Uncompressed, nil
	default:
		return 0, tserr.New(tserr.ArgsError, "unknown encoding %q", s)
	}
}

// ParseDuplicatePolicy maps a DUPLICATE_POLICY token to chunk.DuplicatePolicy.
func ParseDuplicatePolicy(s string) (chunk.DuplicatePolicy, error) {
	switch strings.ToUpper(s) {
	case "BLOCK", "":
		return chunk.PolicyBlock, nil
	case "FIRST":
		return chunk.PolicyFirst, nil
	case "LAST":
		return chunk.PolicyLast, nil
	case "MIN":
		return chunk.PolicyMin, nil
	case "MAX":
		return chunk.PolicyMax, nil
	case "SUM":
		return chunk.PolicySum, nil
	default:
		return 0, tserr.New(tserr.ArgsError, "unknown duplicate policy %q", s)
	}
}

// CreateOptions carries CREATE's optional clauses.
type CreateOptions struct {
	RetentionMS       int64
	Encoding          chunk.Encoding
	ChunkSize         int
	DuplicatePolicy   chunk.DuplicatePolicy
	IgnoreMaxTimeDiff int64
	IgnoreMaxValDiff  float64
	Labels            map[string]string
}

// DefaultCreateOptions mirrors seriesstore.DefaultConfig's defaults.
func DefaultCreateOptions() CreateOptions {
	d := defaultConfig()
	return CreateOptions{
		RetentionMS:     d.RetentionMS,
		Encoding:        d.Encoding,
		ChunkSize:       d.ChunkSize,
		DuplicatePolicy: d.DuplicatePolicy,
	}
}

// AlterOptions carries ALTER's optional clauses; a nil pointer means
// "leave unchanged". A non-nil Labels replaces the series' full label
// set (the metric name itself is immutable) and re-registers its
// postings atomically.
type AlterOptions struct {
	RetentionMS       *int64
	DuplicatePolicy   *chunk.DuplicatePolicy
	IgnoreMaxTimeDiff *int64
	IgnoreMaxValDiff  *float64
	ChunkSize         *int
	Labels            map[string]string
}

// Sample is one (timestamp, value) result row.
type Sample struct {
	TS  int64
	Val float64
}

// LabeledSample pairs a Sample with the series it came from, used by
// MGET/MRANGE/QUERYINDEX results.
type LabeledSample struct {
	Key    string
	Labels map[string]string
	Sample Sample
	Points []Sample
}
