package query

import (
	"math"

	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/metricsql"
)

// evalBinary evaluates a binary expression, dispatching to
// scalar-scalar, vector-scalar, or vector-vector matching depending on
// the shape of each side's result. Per spec.md §4.7 the metric name is
// stripped from both sides before matching and the `bool` modifier
// converts comparisons to a 0/1 indicator instead of a filter.
func (e *Evaluator) evalBinary(ex *metricsql.BinaryExpr, t int64, opts EvalOptions) (*Result, error) {
	left, err := e.eval(ex.Left, t, opts)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(ex.Right, t, opts)
	if err != nil {
		return nil, err
	}

	if lv, ok := scalarValue(left); ok && left.Scalar() {
		if rv, ok := scalarValue(right); ok && right.Scalar() {
			return scalarResult(applyOp(lv, rv, ex.Op, ex.Bool)), nil
		}
		return broadcastScalar(lv, right, ex.Op, ex.Bool, true), nil
	}
	if rv, ok := scalarValue(right); ok && right.Scalar() {
		return broadcastScalar(rv, left, ex.Op, ex.Bool, false), nil
	}

	return matchVectors(left, right, ex), nil
}

// broadcastScalar applies a scalar to every point of a vector.
// scalarOnLeft controls operand order for non-commutative operators.
func broadcastScalar(scalar float64, vec *Result, op metricsql.TokenType, boolMod, scalarOnLeft bool) *Result {
	out := &Result{Series: make([]Series, 0, len(vec.Series))}
	for _, s := range vec.Series {
		pts := make([]Point, 0, len(s.Points))
		for _, p := range s.Points {
			var v float64
			if scalarOnLeft {
				v = applyOp(scalar, p.Val, op, boolMod)
			} else {
				v = applyOp(p.Val, scalar, op, boolMod)
			}
			if isComparisonOp(op) && !boolMod {
				if math.IsNaN(v) {
					continue
				}
				v = p.Val
			}
			pts = append(pts, Point{TS: p.TS, Val: v})
		}
		if len(pts) == 0 {
			continue
		}
		out.Series = append(out.Series, Series{Labels: s.Labels, Points: pts})
	}
	return out
}

// matchVectors implements vector-to-vector binary ops with on/ignoring
// + group_left/group_right semantics.
func matchVectors(left, right *Result, ex *metricsql.BinaryExpr) *Result {
	vm := ex.Matching
	on, labels := false, []string(nil)
	groupLeft, groupRight := false, false
	var include []string
	if vm != nil {
		on, labels = vm.On, vm.Labels
		groupLeft, groupRight = vm.GroupLeft, vm.GroupRight
		include = vm.Include
	}

	rightByKey := make(map[string][]Series)
	for _, rs := range right.Series {
		k := matchKey(rs.Labels, on, labels)
		rightByKey[k] = append(rightByKey[k], rs)
	}

	out := &Result{}
	for _, ls := range left.Series {
		k := matchKey(ls.Labels, on, labels)
		candidates := rightByKey[k]
		if len(candidates) == 0 {
			continue
		}
		for _, rs := range candidates {
			pts := joinPoints(ls.Points, rs.Points, ex.Op, ex.Bool)
			if len(pts) == 0 {
				continue
			}
			var outLabels labelset.LabelSet
			if groupRight {
				outLabels = mergeLabels(rs.Labels, ls.Labels, include)
			} else {
				outLabels = mergeLabels(ls.Labels, rs.Labels, include)
			}
			_ = groupLeft
			out.Series = append(out.Series, Series{Labels: outLabels, Points: pts})
		}
	}
	return out
}

func joinPoints(left, right []Point, op metricsql.TokenType, boolMod bool) []Point {
	byTS := make(map[int64]float64, len(right))
	for _, p := range right {
		byTS[p.TS] = p.Val
	}
	var out []Point
	for _, lp := range left {
		rv, ok := byTS[lp.TS]
		if !ok {
			continue
		}
		v := applyOp(lp.Val, rv, op, boolMod)
		if isComparisonOp(op) && !boolMod {
			if math.IsNaN(v) {
				continue
			}
			v = lp.Val
		}
		out = append(out, Point{TS: lp.TS, Val: v})
	}
	return out
}

// matchKey builds the grouping key used to pair series across a
// binary op: the effective label set (metric name stripped) reduced
// to `on`'s labels or everything but `ignoring`'s labels.
func matchKey(ls labelset.LabelSet, on bool, labels []string) string {
	stripped := ls.WithoutMetricName()
	wanted := make(map[string]bool, len(labels))
	for _, l := range labels {
		wanted[l] = true
	}

	b := labelset.NewBuilder()
	stripped.Range(func(name, value string) {
		if len(labels) == 0 && !on {
			b.Set(name, value)
			return
		}
		if on && wanted[name] {
			b.Set(name, value)
		}
		if !on && !wanted[name] {
			b.Set(name, value)
		}
	})
	built, _ := b.Build()
	return built.String()
}

// mergeLabels returns the "one" side's label set, optionally widened
// with specific labels copied from the "many" side (group_left/right's
// include list).
func mergeLabels(one, many labelset.LabelSet, include []string) labelset.LabelSet {
	if len(include) == 0 {
		return one
	}
	b := labelset.NewBuilder()
	one.Range(func(name, value string) { b.Set(name, value) })
	for _, name := range include {
		if v, ok := many.Get(name); ok {
			b.Set(name, v)
		}
	}
	built, _ := b.Build()
	return built
}
