package query

import (
	"math"
	"regexp"
	"sort"

	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/metricsql"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// evalFunctionCall dispatches to the rollup, transform, or label
// function table, replacing the teacher's two hand-rolled
// executeRate/executeIncrease functions with one table per spec.md §9.
func (e *Evaluator) evalFunctionCall(fn *metricsql.FunctionCall, t int64, opts EvalOptions) (*Result, error) {
	switch {
	case metricsql.IsRollupFunction(fn.Name):
		return e.evalRollup(fn, t, opts)
	case metricsql.IsTransformFunction(fn.Name):
		return e.evalTransform(fn, t, opts)
	case metricsql.IsLabelFunction(fn.Name):
		return e.evalLabelFunction(fn, t, opts)
	default:
		return nil, tserr.New(tserr.ArgsError, "unknown function %q", fn.Name)
	}
}

// evalRollup evaluates fn's last argument (required to be a range
// vector per the parser's type check) and reduces each series' window
// of points to a single rollup value at t.
func (e *Evaluator) evalRollup(fn *metricsql.FunctionCall, t int64, opts EvalOptions) (*Result, error) {
	if len(fn.Args) == 0 {
		return nil, tserr.New(tserr.ArgsError, "%s() requires a range-vector argument", fn.Name)
	}
	rangeArg, err := e.eval(fn.Args[len(fn.Args)-1], t, opts)
	if err != nil {
		return nil, err
	}

	var param float64
	if len(fn.Args) > 1 {
		if pr, err := e.eval(fn.Args[0], t, opts); err == nil {
			if v, ok := scalarValue(pr); ok {
				param = v
			}
		}
	}

	window := rollupWindow(fn)
	out := &Result{}
	for _, s := range rangeArg.Series {
		if len(s.Points) == 0 {
			continue
		}
		v, ok := rollupValue(fn.Name, s.Points, window, param)
		if !ok {
			continue
		}
		out.Series = append(out.Series, Series{Labels: s.Labels.WithoutMetricName(), Points: []Point{{TS: t, Val: v}}})
	}
	return out, nil
}

// rollupWindow recovers the selector/subquery window feeding a rollup
// call, needed to convert increase into a per-second rate.
func rollupWindow(fn *metricsql.FunctionCall) float64 {
	switch arg := fn.Args[len(fn.Args)-1].(type) {
	case *metricsql.VectorSelector:
		return arg.Window.Seconds()
	case *metricsql.SubqueryExpr:
		return arg.Window.Seconds()
	default:
		return 0
	}
}

func rollupValue(name string, pts []Point, windowSeconds, param float64) (float64, bool) {
	switch name {
	case "rate":
		inc, ok := increaseWithReset(pts)
		if !ok || windowSeconds <= 0 {
			return 0, false
		}
		return inc / windowSeconds, true
	case "increase":
		return increaseWithReset(pts)
	case "irate":
		return instantRate(pts, windowSeconds)
	case "delta":
		return pts[len(pts)-1].Val - pts[0].Val, true
	case "idelta":
		if len(pts) < 2 {
			return 0, false
		}
		return pts[len(pts)-1].Val - pts[len(pts)-2].Val, true
	case "changes":
		return float64(countChanges(pts)), true
	case "resets":
		return float64(countResets(pts)), true
	case "avg_over_time":
		return avgVals(pts), true
	case "min_over_time":
		return minVals(pts), true
	case "max_over_time":
		return maxVals(pts), true
	case "sum_over_time":
		return sumVals(pts), true
	case "count_over_time":
		return float64(len(pts)), true
	case "stddev_over_time":
		return math.Sqrt(varianceVals(pts)), true
	case "stdvar_over_time":
		return varianceVals(pts), true
	case "quantile_over_time":
		vals := valsOf(pts)
		return quantile(vals, param), true
	default:
		return 0, false
	}
}

// increaseWithReset sums successive deltas, treating any decrease as a
// counter reset whose pre-reset value is folded back in, per spec.md
// §4.7 ("a value drop within the window is treated as a reset:
// increase += last_before_drop").
func increaseWithReset(pts []Point) (float64, bool) {
	if len(pts) < 2 {
		return 0, false
	}
	total := pts[len(pts)-1].Val - pts[0].Val
	prev := pts[0].Val
	for i := 1; i < len(pts); i++ {
		if pts[i].Val < prev {
			total += prev
		}
		prev = pts[i].Val
	}
	return total, true
}

// instantRate uses only the last two samples in the window.
func instantRate(pts []Point, windowSeconds float64) (float64, bool) {
	if len(pts) < 2 {
		return 0, false
	}
	last, prev := pts[len(pts)-1], pts[len(pts)-2]
	dt := float64(last.TS-prev.TS) / 1000
	if dt <= 0 {
		return 0, false
	}
	d := last.Val - prev.Val
	if d < 0 {
		d = last.Val // counter reset: treat as increase from zero
	}
	return d / dt, true
}

func countChanges(pts []Point) int {
	n := 0
	for i := 1; i < len(pts); i++ {
		if pts[i].Val != pts[i-1].Val {
			n++
		}
	}
	return n
}

func countResets(pts []Point) int {
	n := 0
	for i := 1; i < len(pts); i++ {
		if pts[i].Val < pts[i-1].Val {
			n++
		}
	}
	return n
}

func valsOf(pts []Point) []float64 {
	vals := make([]float64, len(pts))
	for i, p := range pts {
		vals[i] = p.Val
	}
	return vals
}

func avgVals(pts []Point) float64 { return sumVals(pts) / float64(len(pts)) }

func sumVals(pts []Point) float64 {
	var s float64
	for _, p := range pts {
		s += p.Val
	}
	return s
}

func minVals(pts []Point) float64 {
	m := pts[0].Val
	for _, p := range pts[1:] {
		if p.Val < m {
			m = p.Val
		}
	}
	return m
}

func maxVals(pts []Point) float64 {
	m := pts[0].Val
	for _, p := range pts[1:] {
		if p.Val > m {
			m = p.Val
		}
	}
	return m
}

func varianceVals(pts []Point) float64 {
	return variance(valsOf(pts))
}

// evalTransform applies an elementwise transform to an instant vector
// or scalar argument.
func (e *Evaluator) evalTransform(fn *metricsql.FunctionCall, t int64, opts EvalOptions) (*Result, error) {
	if len(fn.Args) == 0 {
		return nil, tserr.New(tserr.ArgsError, "%s() requires an argument", fn.Name)
	}
	arg, err := e.eval(fn.Args[0], t, opts)
	if err != nil {
		return nil, err
	}

	if fn.Name == "sort" || fn.Name == "sort_desc" {
		return &Result{Series: sortSeriesByLastValue(arg.Series, fn.Name == "sort_desc")}, nil
	}

	var extra []float64
	for _, a := range fn.Args[1:] {
		r, err := e.eval(a, t, opts)
		if err != nil {
			return nil, err
		}
		if v, ok := scalarValue(r); ok {
			extra = append(extra, v)
		}
	}

	out := &Result{Series: make([]Series, len(arg.Series))}
	for i, s := range arg.Series {
		pts := make([]Point, len(s.Points))
		for j, p := range s.Points {
			pts[j] = Point{TS: p.TS, Val: transformValue(fn.Name, p.Val, extra)}
		}
		out.Series[i] = Series{Labels: s.Labels, Points: pts}
	}
	return out, nil
}

func transformValue(name string, v float64, extra []float64) float64 {
	switch name {
	case "abs":
		return math.Abs(v)
	case "ceil":
		return math.Ceil(v)
	case "floor":
		return math.Floor(v)
	case "round":
		return math.Round(v)
	case "sqrt":
		return math.Sqrt(v)
	case "exp":
		return math.Exp(v)
	case "ln":
		return math.Log(v)
	case "log2":
		return math.Log2(v)
	case "log10":
		return math.Log10(v)
	case "sgn":
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	case "clamp":
		if len(extra) < 2 {
			return v
		}
		return math.Min(math.Max(v, extra[0]), extra[1])
	case "clamp_min":
		if len(extra) < 1 {
			return v
		}
		return math.Max(v, extra[0])
	case "clamp_max":
		if len(extra) < 1 {
			return v
		}
		return math.Min(v, extra[0])
	default:
		return v
	}
}

// evalLabelFunction applies a label-manipulating function (label_del,
// label_keep, label_replace, label_join) to its first argument's series.
func (e *Evaluator) evalLabelFunction(fn *metricsql.FunctionCall, t int64, opts EvalOptions) (*Result, error) {
	if len(fn.Args) == 0 {
		return nil, tserr.New(tserr.ArgsError, "%s() requires an argument", fn.Name)
	}
	arg, err := e.eval(fn.Args[0], t, opts)
	if err != nil {
		return nil, err
	}

	switch fn.Name {
	case "label_del", "label_keep":
		names := stringArgs(fn.Args[1:])
		return &Result{Series: projectLabels(arg.Series, names, fn.Name == "label_keep")}, nil
	case "label_replace":
		if len(fn.Args) != 5 {
			return nil, tserr.New(tserr.ArgsError, "label_replace() requires 5 arguments")
		}
		dst, src, regex := stringLit(fn.Args[1]), stringLit(fn.Args[3]), stringLit(fn.Args[4])
		replacement := stringLit(fn.Args[2])
		return labelReplace(arg.Series, dst, replacement, src, regex)
	case "label_join":
		if len(fn.Args) < 3 {
			return nil, tserr.New(tserr.ArgsError, "label_join() requires at least 3 arguments")
		}
		dst, sep := stringLit(fn.Args[1]), stringLit(fn.Args[2])
		srcs := make([]string, 0, len(fn.Args)-3)
		for _, a := range fn.Args[3:] {
			srcs = append(srcs, stringLit(a))
		}
		return labelJoin(arg.Series, dst, sep, srcs), nil
	default:
		return nil, tserr.New(tserr.ArgsError, "unknown label function %q", fn.Name)
	}
}

func stringLit(e metricsql.Expr) string {
	if s, ok := e.(*metricsql.StringLiteral); ok {
		return s.Value
	}
	return ""
}

func stringArgs(exprs []metricsql.Expr) []string {
	out := make([]string, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, stringLit(e))
	}
	return out
}

func projectLabels(series []Series, names []string, keep bool) []Series {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := make([]Series, len(series))
	for i, s := range series {
		b := labelset.NewBuilder()
		s.Labels.Range(func(name, value string) {
			if name == labelset.MetricName || (keep && wanted[name]) || (!keep && !wanted[name]) {
				b.Set(name, value)
			}
		})
		ls, _ := b.Build()
		out[i] = Series{Labels: ls, Points: s.Points}
	}
	return out
}

func labelJoin(series []Series, dst, sep string, srcs []string) *Result {
	out := &Result{Series: make([]Series, len(series))}
	for i, s := range series {
		b := labelset.NewBuilder()
		s.Labels.Range(func(name, value string) { b.Set(name, value) })
		parts := make([]string, 0, len(srcs))
		for _, src := range srcs {
			if v, ok := s.Labels.Get(src); ok {
				parts = append(parts, v)
			}
		}
		joined := ""
		for i, p := range parts {
			if i > 0 {
				joined += sep
			}
			joined += p
		}
		b.Set(dst, joined)
		ls, _ := b.Build()
		out.Series[i] = Series{Labels: ls, Points: s.Points}
	}
	return out
}

// labelReplace sets dst on each series to replacement with $1-style
// regex group substitution applied against src's current value,
// leaving the series unchanged when regex doesn't match src.
func labelReplace(series []Series, dst, replacement, src, pattern string) (*Result, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, tserr.Wrap(tserr.ParseError, err, "label_replace: invalid regex %q", pattern)
	}

	out := &Result{Series: make([]Series, len(series))}
	for i, s := range series {
		srcVal, _ := s.Labels.Get(src)
		match := re.FindStringSubmatchIndex(srcVal)
		if match == nil {
			out.Series[i] = s
			continue
		}
		value := string(re.ExpandString(nil, replacement, srcVal, match))

		b := labelset.NewBuilder()
		s.Labels.Range(func(name, v string) { b.Set(name, v) })
		b.Set(dst, value)
		ls, _ := b.Build()
		out.Series[i] = Series{Labels: ls, Points: s.Points}
	}
	return out, nil
}

func sortSeriesByLastValue(series []Series, desc bool) []Series {
	sorted := append([]Series(nil), series...)
	sort.Slice(sorted, func(i, j int) bool {
		vi, vj := lastVal(sorted[i]), lastVal(sorted[j])
		if desc {
			return vi > vj
		}
		return vi < vj
	})
	return sorted
}

func lastVal(s Series) float64 {
	if len(s.Points) == 0 {
		return math.NaN()
	}
	return s.Points[len(s.Points)-1].Val
}
