package query

import (
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/nicktill/tinyseries/pkg/chunk"
	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/metricsql"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// SeriesLookup is the minimal view of an engine a query needs: select
// series ids matching a set of selector groups, and resolve an id to
// its series store handle. pkg/adapter's registry satisfies this.
type SeriesLookup interface {
	SelectGroups(groups [][]index.Matcher) (*roaring.Bitmap, error)
	Series(id uint32) (*seriesstore.Series, bool)
}

// Evaluator evaluates metricsql expressions against a SeriesLookup.
type Evaluator struct {
	lookup SeriesLookup
}

// New creates an Evaluator bound to lookup.
func New(lookup SeriesLookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

const defaultLookback = 5 * time.Minute

// Instant evaluates expr at a single timestamp T (ms epoch), using the
// default (or caller-supplied) lookback window for bare selectors.
func (e *Evaluator) Instant(expr metricsql.Expr, t int64, opts EvalOptions) (*Result, error) {
	if opts.LookbackDefault == 0 {
		opts.LookbackDefault = defaultLookback
	}
	opts.Start, opts.End = t, t
	return e.eval(expr, t, opts)
}

// Range evaluates expr at each step in [start, end], stitching an
// ephemeral carry-forward lookback per spec.md §4.7: the lookback
// window for each step is max(step, medianOfFirst20SampleIntervals).
func (e *Evaluator) Range(expr metricsql.Expr, opts EvalOptions) (*Result, error) {
	if opts.Step <= 0 {
		return nil, tserr.New(tserr.ArgsError, "range query requires a positive step")
	}
	if opts.LookbackDefault == 0 {
		opts.LookbackDefault = defaultLookback
	}

	merged := make(map[string]*Series)
	var order []string

	for t := opts.Start; t <= opts.End; t += opts.Step.Milliseconds() {
		if opts.deadlineExceeded() {
			return nil, tserr.New(tserr.QueryTimeout, "range query exceeded deadline at t=%d", t)
		}
		stepResult, err := e.eval(expr, t, opts)
		if err != nil {
			return nil, err
		}
		for _, s := range stepResult.Series {
			key := s.Labels.String()
			dst, ok := merged[key]
			if !ok {
				dst = &Series{Labels: s.Labels}
				merged[key] = dst
				order = append(order, key)
			}
			dst.Points = append(dst.Points, s.Points...)
		}
	}

	out := &Result{Series: make([]Series, 0, len(order))}
	for _, key := range order {
		out.Series = append(out.Series, *merged[key])
	}
	return out, nil
}

// effectiveLookback computes the per-series lookback window used by
// evalSelector, per spec.md §4.7: max(step, median of the first 20
// observed sample intervals for that series). Falls back to step
// alone when fewer than 2 samples are available to derive an interval
// from.
func effectiveLookback(samples []chunk.Sample, step time.Duration) time.Duration {
	if len(samples) < 2 {
		return step
	}
	n := len(samples)
	if n > 21 {
		n = 21
	}
	intervals := make([]int64, 0, n-1)
	for i := 1; i < n; i++ {
		intervals = append(intervals, samples[i].TS-samples[i-1].TS)
	}
	median := medianInt64(intervals)
	medianDur := time.Duration(median) * time.Millisecond
	if medianDur > step {
		return medianDur
	}
	return step
}

func medianInt64(vals []int64) int64 {
	sorted := append([]int64(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

// eval dispatches a single expression at instant t.
func (e *Evaluator) eval(expr metricsql.Expr, t int64, opts EvalOptions) (*Result, error) {
	if opts.deadlineExceeded() {
		return nil, tserr.New(tserr.QueryTimeout, "query exceeded deadline")
	}

	switch ex := expr.(type) {
	case *metricsql.NumberLiteral:
		return scalarResult(ex.Value), nil
	case *metricsql.StringLiteral:
		return &Result{}, nil
	case *metricsql.VectorSelector:
		return e.evalSelector(ex, t, opts)
	case *metricsql.ParenExpr:
		return e.eval(ex.Expr, t, opts)
	case *metricsql.UnaryExpr:
		return e.evalUnary(ex, t, opts)
	case *metricsql.BinaryExpr:
		return e.evalBinary(ex, t, opts)
	case *metricsql.AggregateExpr:
		return e.evalAggregate(ex, t, opts)
	case *metricsql.FunctionCall:
		return e.evalFunctionCall(ex, t, opts)
	case *metricsql.SubqueryExpr:
		return e.evalSubquery(ex, t, opts)
	default:
		return nil, tserr.New(tserr.Internal, "unhandled expression type %T", expr)
	}
}

func scalarResult(v float64) *Result {
	return &Result{Series: []Series{{Points: []Point{{Val: v}}}}}
}

func (e *Evaluator) evalUnary(ex *metricsql.UnaryExpr, t int64, opts EvalOptions) (*Result, error) {
	inner, err := e.eval(ex.Expr, t, opts)
	if err != nil {
		return nil, err
	}
	if ex.Op == metricsql.TokenMinus {
		for i := range inner.Series {
			for j := range inner.Series[i].Points {
				inner.Series[i].Points[j].Val = -inner.Series[i].Points[j].Val
			}
		}
	}
	return inner, nil
}

// evalSelector resolves matching series and, for each, picks the
// latest sample in (t-window, t] where window is the selector's own
// range window if present, else the lookback default.
func (e *Evaluator) evalSelector(vs *metricsql.VectorSelector, t int64, opts EvalOptions) (*Result, error) {
	at := t
	if vs.At != nil {
		at = vs.At.UnixMilli()
	}
	at -= vs.Offset.Milliseconds()

	groups, err := selectorGroups(vs)
	if err != nil {
		return nil, err
	}
	bm, err := e.lookup.SelectGroups(groups)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	it := bm.Iterator()
	for it.HasNext() {
		id := it.Next()
		s, ok := e.lookup.Series(id)
		if !ok {
			continue
		}

		window := vs.Window
		if window <= 0 {
			window = e.seriesLookback(s, at, opts)
		}
		from := at - window.Milliseconds()

		if vs.IsRangeVector() {
			// rollup windows are the closed interval [from, at], unlike a
			// bare selector's half-open (from, at] lookback below.
			samples := s.Range(from, at)
			if len(samples) == 0 {
				continue
			}
			pts := make([]Point, len(samples))
			for i, sm := range samples {
				pts[i] = Point{TS: sm.TS, Val: sm.Val}
			}
			res.Series = append(res.Series, Series{Labels: s.Labels, Points: pts})
			continue
		}
		last, ok := latestInWindow(s, from+1, at)
		if !ok {
			continue
		}
		res.Series = append(res.Series, Series{Labels: s.Labels, Points: []Point{{TS: at, Val: last.Val}}})
	}
	return res, nil
}

// seriesLookback derives a bare selector's lookback window from the
// series' own recent sampling cadence, falling back to opts'
// configured default when too few samples exist to probe. Per
// spec.md §4.7 this bounds the window below at opts.LookbackDefault
// so sparse series don't shrink the default visibility window.
func (e *Evaluator) seriesLookback(s *seriesstore.Series, at int64, opts EvalOptions) time.Duration {
	probe := s.Range(at-opts.LookbackDefault.Milliseconds(), at)
	step := opts.Step
	if step <= 0 {
		step = opts.LookbackDefault
	}
	w := effectiveLookback(probe, step)
	if w < opts.LookbackDefault {
		return opts.LookbackDefault
	}
	return w
}

func latestInWindow(s *seriesstore.Series, from, to int64) (Point, bool) {
	samples := s.Range(from, to)
	if len(samples) == 0 {
		return Point{}, false
	}
	last := samples[len(samples)-1]
	return Point{TS: last.TS, Val: last.Val}, true
}

func selectorGroups(vs *metricsql.VectorSelector) ([][]index.Matcher, error) {
	matchers := make([]index.Matcher, 0, len(vs.Matchers)+1)
	if vs.Name != "" {
		matchers = append(matchers, index.Matcher{Name: "__name__", Op: index.Eq, Value: vs.Name})
	}
	for _, m := range vs.Matchers {
		op, err := convertOp(m.Op)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, index.Matcher{Name: m.Name, Op: op, Value: m.Value})
	}
	return [][]index.Matcher{matchers}, nil
}

func convertOp(t metricsql.TokenType) (index.MatchOp, error) {
	switch t {
	case metricsql.TokenEqual:
		return index.Eq, nil
	case metricsql.TokenNotEqual:
		return index.Neq, nil
	case metricsql.TokenMatch:
		return index.RegexMatch, nil
	case metricsql.TokenNotMatch:
		return index.RegexNotMatch, nil
	default:
		return 0, fmt.Errorf("metricsql: invalid label match operator")
	}
}

func (e *Evaluator) evalSubquery(sq *metricsql.SubqueryExpr, t int64, opts EvalOptions) (*Result, error) {
	at := t
	if sq.At != nil {
		at = sq.At.UnixMilli()
	}
	at -= sq.Offset.Milliseconds()

	step := sq.Step
	if step <= 0 {
		step = opts.Step
	}
	if step <= 0 {
		step = time.Minute
	}
	from := at - sq.Window.Milliseconds()

	sub := opts
	sub.Start, sub.End, sub.Step = from, at, step
	return e.Range(sq.Expr, sub)
}

// scalarValue extracts a bare scalar's value, used when a binary
// operator's operand is a constant.
func scalarValue(r *Result) (float64, bool) {
	if len(r.Series) != 1 || len(r.Series[0].Points) == 0 {
		return 0, false
	}
	return r.Series[0].Points[0].Val, true
}

func applyOp(left, right float64, op metricsql.TokenType, boolMod bool) float64 {
	var v float64
	switch op {
	case metricsql.TokenPlus:
		v = left + right
	case metricsql.TokenMinus:
		v = left - right
	case metricsql.TokenMultiply:
		v = left * right
	case metricsql.TokenDivide:
		if right == 0 {
			return math.NaN()
		}
		v = left / right
	case metricsql.TokenMod:
		v = math.Mod(left, right)
	case metricsql.TokenPower:
		v = math.Pow(left, right)
	case metricsql.TokenEqualEqual:
		return boolToFloat(left == right, boolMod)
	case metricsql.TokenNotEqual:
		return boolToFloat(left != right, boolMod)
	case metricsql.TokenLess:
		return boolToFloat(left < right, boolMod)
	case metricsql.TokenLessEqual:
		return boolToFloat(left <= right, boolMod)
	case metricsql.TokenGreater:
		return boolToFloat(left > right, boolMod)
	case metricsql.TokenGreaterEqual:
		return boolToFloat(left >= right, boolMod)
	default:
		return math.NaN()
	}
	return v
}

func boolToFloat(cond, boolMod bool) float64 {
	if !boolMod {
		// Filtering mode: BinaryExpr evaluation for comparisons without
		// `bool` drops non-matching pairs upstream; this path only
		// computes the comparison's truth value for that filtering.
		if cond {
			return 1
		}
		return math.NaN()
	}
	if cond {
		return 1
	}
	return 0
}

func isComparisonOp(t metricsql.TokenType) bool {
	switch t {
	case metricsql.TokenEqualEqual, metricsql.TokenNotEqual, metricsql.TokenLess,
		metricsql.TokenLessEqual, metricsql.TokenGreater, metricsql.TokenGreaterEqual:
		return true
	default:
		return false
	}
}
