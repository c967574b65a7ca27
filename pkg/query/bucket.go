package query

import (
	"math"

	"github.com/nicktill/tinyseries/pkg/chunk"
)

// Align selects how bucket boundaries are anchored.
type Align int

const (
	AlignStart Align = iota
	AlignEnd
	AlignAbsolute
)

// BucketTimestamp selects which instant within a bucket labels its
// output point.
type BucketTimestamp int

const (
	BucketTimestampStart BucketTimestamp = iota
	BucketTimestampMid
	BucketTimestampEnd
)

// CompareOp is the comparison used by CONDITION-gated aggregators
// (countif/sumif/share/all/any/none).
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

// Condition gates which samples a bucketed aggregator counts.
type Condition struct {
	Op    CompareOp
	Value float64
}

func (c Condition) match(v float64) bool {
	switch c.Op {
	case CmpEQ:
		return v == c.Value
	case CmpNE:
		return v != c.Value
	case CmpLT:
		return v < c.Value
	case CmpLE:
		return v <= c.Value
	case CmpGT:
		return v > c.Value
	case CmpGE:
		return v >= c.Value
	default:
		return false
	}
}

// BucketSpec parameterizes TS.RANGE's bucketed aggregation mode.
type BucketSpec struct {
	Size            int64 // bucket width, ms
	Align           Align
	AlignAbsoluteTS int64 // used only when Align==AlignAbsolute
	Empty           bool  // emit zero-population buckets
	BucketTS        BucketTimestamp
	Aggregation     string // sum,avg,min,max,count,countif,sumif,share,all,any,none,rate,increase,irate
	Condition       *Condition
}

// bucketIndex computes ⌊(ts - align) / bucket⌋ per spec.md §4.7.
func bucketIndex(ts, align, bucket int64) int64 {
	d := ts - align
	if d < 0 {
		return (d - bucket + 1) / bucket
	}
	return d / bucket
}

func alignAnchor(spec BucketSpec, from, to int64) int64 {
	switch spec.Align {
	case AlignEnd:
		return to
	case AlignAbsolute:
		return spec.AlignAbsoluteTS
	default:
		return from
	}
}

// Bucketed aggregates samples in [from,to] into fixed-size buckets,
// applying spec's ALIGN/EMPTY/BUCKETTIMESTAMP/CONDITION rules, with
// per-bucket counter-reset detection for rate/increase/irate.
func Bucketed(samples []chunk.Sample, from, to int64, spec BucketSpec) []Point {
	if spec.Size <= 0 {
		return nil
	}
	align := alignAnchor(spec, from, to)

	buckets := make(map[int64][]chunk.Sample)
	for _, s := range samples {
		if s.TS < from || s.TS > to {
			continue
		}
		idx := bucketIndex(s.TS, align, spec.Size)
		buckets[idx] = append(buckets[idx], s)
	}

	firstIdx := bucketIndex(from, align, spec.Size)
	lastIdx := bucketIndex(to, align, spec.Size)

	var out []Point
	for idx := firstIdx; idx <= lastIdx; idx++ {
		members, ok := buckets[idx]
		if !ok && !spec.Empty {
			continue
		}
		bucketStart := align + idx*spec.Size
		bucketEnd := bucketStart + spec.Size
		ts := bucketTimestampFor(spec.BucketTS, bucketStart, bucketEnd)
		out = append(out, Point{TS: ts, Val: bucketValue(members, spec)})
	}
	return out
}

func bucketTimestampFor(kind BucketTimestamp, start, end int64) int64 {
	switch kind {
	case BucketTimestampEnd:
		return end
	case BucketTimestampMid:
		return (start + end) / 2
	default:
		return start
	}
}

func bucketValue(members []chunk.Sample, spec BucketSpec) float64 {
	n := len(members)
	switch spec.Aggregation {
	case "sum":
		if n == 0 {
			return 0
		}
		return sumSamples(members)
	case "avg":
		if n == 0 {
			return math.NaN()
		}
		return sumSamples(members) / float64(n)
	case "min":
		if n == 0 {
			return math.NaN()
		}
		return minSamples(members)
	case "max":
		if n == 0 {
			return math.NaN()
		}
		return maxSamples(members)
	case "count":
		return float64(n)
	case "countif":
		return float64(countIf(members, spec.Condition))
	case "sumif":
		return sumIf(members, spec.Condition)
	case "share":
		if n == 0 {
			return math.NaN()
		}
		return float64(countIf(members, spec.Condition)) / float64(n)
	case "all":
		return boolFloat(n > 0 && countIf(members, spec.Condition) == n)
	case "any":
		return boolFloat(countIf(members, spec.Condition) > 0)
	case "none":
		return boolFloat(countIf(members, spec.Condition) == 0)
	case "rate", "increase", "irate":
		return counterAwareBucketValue(members, spec.Aggregation)
	default:
		return math.NaN()
	}
}

func counterAwareBucketValue(members []chunk.Sample, kind string) float64 {
	if len(members) < 2 {
		return 0
	}
	pts := make([]Point, len(members))
	for i, m := range members {
		pts[i] = Point{TS: m.TS, Val: m.Val}
	}
	windowSeconds := float64(pts[len(pts)-1].TS-pts[0].TS) / 1000
	v, ok := rollupValue(kind, pts, windowSeconds, 0)
	if !ok {
		return 0
	}
	return v
}

func countIf(members []chunk.Sample, cond *Condition) int {
	if cond == nil {
		return len(members)
	}
	n := 0
	for _, m := range members {
		if cond.match(m.Val) {
			n++
		}
	}
	return n
}

func sumIf(members []chunk.Sample, cond *Condition) float64 {
	var s float64
	for _, m := range members {
		if cond == nil || cond.match(m.Val) {
			s += m.Val
		}
	}
	return s
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sumSamples(members []chunk.Sample) float64 {
	var s float64
	for _, m := range members {
		s += m.Val
	}
	return s
}

func minSamples(members []chunk.Sample) float64 {
	m := members[0].Val
	for _, s := range members[1:] {
		if s.Val < m {
			m = s.Val
		}
	}
	return m
}

func maxSamples(members []chunk.Sample) float64 {
	m := members[0].Val
	for _, s := range members[1:] {
		if s.Val > m {
			m = s.Val
		}
	}
	return m
}
