// Package query evaluates parsed metricsql expressions against an
// engine's series store and label index, producing instant or range
// results.
package query

import (
	"time"

	"github.com/nicktill/tinyseries/pkg/labelset"
)

// Point is one (timestamp, value) sample in a result series.
type Point struct {
	TS  int64
	Val float64
}

// Series is one result time series: its label set plus the points
// produced for the requested evaluation window.
type Series struct {
	Labels labelset.LabelSet
	Points []Point
}

// Result is the full output of an instant or range evaluation.
type Result struct {
	Series []Series
}

// Scalar marks a Result that represents a bare scalar rather than a
// labeled vector (an empty label set, single point per step).
func (r *Result) Scalar() bool {
	return len(r.Series) == 1 && r.Series[0].Labels.Len() == 0
}

// EvalOptions controls one evaluation: the time window, step, and a
// deadline the evaluator polls cooperatively.
type EvalOptions struct {
	Start           int64 // ms, inclusive
	End             int64 // ms, inclusive; for an instant query Start==End
	Step            time.Duration
	Deadline        time.Time // zero means no deadline
	LookbackDefault time.Duration // default 5 min lookbehind for a bare selector
}

func (o EvalOptions) deadlineExceeded() bool {
	return !o.Deadline.IsZero() && !timeNow().Before(o.Deadline)
}

// timeNow exists so evaluation loops poll real wall time while still
// being a single indirection point, mirroring the explicit-now-param
// style used throughout pkg/seriesstore; evaluation deadlines are wall
// clock based, unlike sample timestamps which always flow in as
// explicit parameters.
var timeNow = time.Now
