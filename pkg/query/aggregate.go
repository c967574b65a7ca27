package query

import (
	"math"
	"sort"

	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/metricsql"
)

func (e *Evaluator) evalAggregate(agg *metricsql.AggregateExpr, t int64, opts EvalOptions) (*Result, error) {
	inner, err := e.eval(agg.Expr, t, opts)
	if err != nil {
		return nil, err
	}

	var param float64
	if agg.Param != nil {
		pr, err := e.eval(agg.Param, t, opts)
		if err != nil {
			return nil, err
		}
		if v, ok := scalarValue(pr); ok {
			param = v
		}
	}

	groups := groupSeries(inner.Series, agg.Grouping, agg.Without)

	out := &Result{}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if agg.Op == "topk" || agg.Op == "bottomk" {
		for _, k := range keys {
			g := groups[k]
			out.Series = append(out.Series, TopKSeries(g.series, int(param), agg.Op == "topk")...)
		}
		return out, nil
	}

	for _, k := range keys {
		g := groups[k]
		pts := aggregatePoints(g.series, agg.Op, param)
		out.Series = append(out.Series, Series{Labels: g.labels, Points: pts})
	}
	return out, nil
}

type seriesGroup struct {
	labels labelset.LabelSet
	series []Series
}

// groupSeries partitions series by the by/without label projection,
// mirroring the teacher's groupSeries but keyed on the canonical
// LabelSet string form instead of a hand-built comma string.
func groupSeries(series []Series, grouping []string, without bool) map[string]*seriesGroup {
	wanted := make(map[string]bool, len(grouping))
	for _, g := range grouping {
		wanted[g] = true
	}

	groups := make(map[string]*seriesGroup)
	for _, s := range series {
		b := labelset.NewBuilder()
		s.Labels.Range(func(name, value string) {
			if name == labelset.MetricName {
				return
			}
			switch {
			case without && !wanted[name]:
				b.Set(name, value)
			case !without && wanted[name]:
				b.Set(name, value)
			}
		})
		projected, _ := b.Build()
		key := projected.String()
		g, ok := groups[key]
		if !ok {
			g = &seriesGroup{labels: projected}
			groups[key] = g
		}
		g.series = append(g.series, s)
	}
	return groups
}

// aggregatePoints merges one group's series into a single output
// series, aggregating per distinct timestamp across member series.
func aggregatePoints(series []Series, op string, param float64) []Point {
	byTS := make(map[int64][]float64)
	fpByTS := make(map[int64][]uint64) // no aggregateOne op reads these; topk/bottomk go through TopKSeries
	labelsByIdx := make([]labelset.LabelSet, 0, len(series))
	for i, s := range series {
		labelsByIdx = append(labelsByIdx, s.Labels)
		for _, p := range s.Points {
			byTS[p.TS] = append(byTS[p.TS], p.Val)
			fpByTS[p.TS] = append(fpByTS[p.TS], labelsByIdx[i].Fingerprint())
		}
	}

	var timestamps []int64
	for ts := range byTS {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	out := make([]Point, 0, len(timestamps))
	for _, ts := range timestamps {
		vals := byTS[ts]
		fps := fpByTS[ts]
		out = append(out, Point{TS: ts, Val: aggregateOne(vals, fps, op, param)})
	}
	return out
}

func aggregateOne(vals []float64, fps []uint64, op string, param float64) float64 {
	switch op {
	case "sum":
		return sumFloats(vals)
	case "avg":
		return sumFloats(vals) / float64(len(vals))
	case "max":
		return maxFloats(vals)
	case "min":
		return minFloats(vals)
	case "group":
		return 1
	case "count":
		return float64(len(vals))
	case "count_values":
		return float64(len(vals))
	case "stddev":
		return math.Sqrt(variance(vals))
	case "stdvar":
		return variance(vals)
	case "quantile":
		return quantile(vals, param)
	default:
		return math.NaN()
	}
}

func sumFloats(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func maxFloats(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minFloats(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func variance(vals []float64) float64 {
	mean := sumFloats(vals) / float64(len(vals))
	var acc float64
	for _, v := range vals {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(vals))
}

// quantile computes the rank-interpolated quantile q in [0,1] of vals,
// matching Prometheus's nearest-rank-with-interpolation convention.
func quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	if q < 0 {
		return math.Inf(-1)
	}
	if q > 1 {
		return math.Inf(1)
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// TopKSeries keeps the k series with the largest value (per group of
// series sharing the same timestamp-wise evaluation) ranked by their
// single-step value, breaking ties by label-set fingerprint for a
// deterministic order, per spec.md §4.7.
func TopKSeries(series []Series, k int, top bool) []Series {
	type scored struct {
		s   Series
		val float64
		fp  uint64
	}
	scoredSeries := make([]scored, 0, len(series))
	for _, s := range series {
		var v float64
		if len(s.Points) > 0 {
			v = s.Points[len(s.Points)-1].Val
		}
		scoredSeries = append(scoredSeries, scored{s: s, val: v, fp: s.Labels.Fingerprint()})
	}
	sort.Slice(scoredSeries, func(i, j int) bool {
		if scoredSeries[i].val != scoredSeries[j].val {
			if top {
				return scoredSeries[i].val > scoredSeries[j].val
			}
			return scoredSeries[i].val < scoredSeries[j].val
		}
		return scoredSeries[i].fp < scoredSeries[j].fp
	})
	if k > len(scoredSeries) {
		k = len(scoredSeries)
	}
	if k < 0 {
		k = 0
	}
	out := make([]Series, k)
	for i := 0; i < k; i++ {
		out[i] = scoredSeries[i].s
	}
	return out
}
