package adapter

import (
	"sort"

	"github.com/nicktill/tinyseries/pkg/chunk"
	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/query"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// Get returns key's most recent sample. latest is accepted for command
// surface parity but has no effect: this engine has no separate
// uncompacted "latest" buffer, samples are visible as soon as Add
// returns.
func (e *Engine) Get(key string, latest bool) (Sample, bool, error) {
	s, ok := e.seriesByKey(key)
	if !ok {
		return Sample{}, false, tserr.New(tserr.NotFound, "key %q not found", key)
	}
	last, ok := s.LastSample()
	if !ok {
		return Sample{}, false, nil
	}
	return Sample{TS: last.TS, Val: last.Val}, true, nil
}

// MGetOptions controls which labels MGet attaches to each result row.
type MGetOptions struct {
	WithLabels     bool
	SelectedLabels []string
}

// MGet returns the most recent sample of every series matching groups.
func (e *Engine) MGet(groups [][]index.Matcher, opts MGetOptions) ([]LabeledSample, error) {
	bm, err := e.idx.SelectGroups(groups)
	if err != nil {
		return nil, err
	}

	ids := bm.ToArray()
	out := make([]LabeledSample, 0, len(ids))
	for _, id := range ids {
		s, ok := e.Series(id)
		if !ok {
			continue
		}
		last, ok := s.LastSample()
		if !ok {
			continue
		}
		row := LabeledSample{Key: s.Labels.Name(), Sample: Sample{TS: last.TS, Val: last.Val}}
		row.Labels = selectLabels(s, opts)
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func selectLabels(s *seriesstore.Series, opts MGetOptions) map[string]string {
	if !opts.WithLabels && len(opts.SelectedLabels) == 0 {
		return nil
	}
	out := make(map[string]string)
	if opts.WithLabels {
		s.Labels.Range(func(name, value string) { out[name] = value })
		return out
	}
	for _, name := range opts.SelectedLabels {
		if v, ok := s.Labels.Get(name); ok {
			out[name] = v
		}
	}
	return out
}

// RangeOptions carries RANGE's optional clauses.
type RangeOptions struct {
	FilterByTS   map[int64]bool
	FilterValMin *float64
	FilterValMax *float64
	Count        int
	Bucket       *query.BucketSpec
}

// Range returns key's samples in [from, to]. FILTER_BY_TS and
// FILTER_BY_VALUE drop samples first, the optional bucketed AGGREGATION
// runs over what remains, and COUNT then caps the rows returned
// (samples, or buckets when aggregating).
func (e *Engine) Range(key string, from, to int64, opts RangeOptions) ([]Sample, error) {
	s, ok := e.seriesByKey(key)
	if !ok {
		return nil, tserr.New(tserr.NotFound, "key %q not found", key)
	}
	samples := s.Range(from, to)
	samples = applyRangeFilters(samples, opts)

	if opts.Bucket != nil {
		pts := query.Bucketed(samples, from, to, *opts.Bucket)
		out := pointsToSamples(pts)
		if opts.Count > 0 && len(out) > opts.Count {
			out = out[:opts.Count]
		}
		return out, nil
	}

	out := make([]Sample, len(samples))
	for i, smp := range samples {
		out[i] = Sample{TS: smp.TS, Val: smp.Val}
	}
	if opts.Count > 0 && len(out) > opts.Count {
		out = out[:opts.Count]
	}
	return out, nil
}

func applyRangeFilters(samples []chunk.Sample, opts RangeOptions) []chunk.Sample {
	if len(opts.FilterByTS) == 0 && opts.FilterValMin == nil && opts.FilterValMax == nil {
		return samples
	}
	out := samples[:0:0]
	for _, smp := range samples {
		if len(opts.FilterByTS) > 0 && !opts.FilterByTS[smp.TS] {
			continue
		}
		if opts.FilterValMin != nil && smp.Val < *opts.FilterValMin {
			continue
		}
		if opts.FilterValMax != nil && smp.Val > *opts.FilterValMax {
			continue
		}
		out = append(out, smp)
	}
	return out
}

func pointsToSamples(pts []query.Point) []Sample {
	out := make([]Sample, len(pts))
	for i, p := range pts {
		out[i] = Sample{TS: p.TS, Val: p.Val}
	}
	return out
}

// MRangeOptions carries MRANGE's optional clauses.
type MRangeOptions struct {
	Range   RangeOptions
	GroupBy string // label name; "" disables grouping
	Reduce  string // sum,avg,min,max; required when GroupBy is set
}

// MRange returns the ranged samples of every series matching groups,
// optionally grouped by one label and reduced pointwise within each
// group, implementing the "MRANGE = union of RANGE ordered by
// fingerprint" law when GroupBy is unset.
func (e *Engine) MRange(from, to int64, groups [][]index.Matcher, opts MRangeOptions) ([]LabeledSample, error) {
	bm, err := e.idx.SelectGroups(groups)
	if err != nil {
		return nil, err
	}
	ids := bm.ToArray()

	type row struct {
		key    string
		labels *seriesstore.Series
		points []Sample
	}
	rows := make([]row, 0, len(ids))
	for _, id := range ids {
		s, ok := e.Series(id)
		if !ok {
			continue
		}
		pts, err := e.Range(s.Labels.Name(), from, to, opts.Range)
		if err != nil {
			continue
		}
		rows = append(rows, row{key: s.Labels.Name(), labels: s, points: pts})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].labels.Labels.Fingerprint() < rows[j].labels.Labels.Fingerprint()
	})

	if opts.GroupBy == "" {
		out := make([]LabeledSample, len(rows))
		for i, r := range rows {
			out[i] = LabeledSample{Key: r.key, Points: r.points}
		}
		return out, nil
	}
	return reduceByLabel(rows, opts.GroupBy, opts.Reduce)
}

type reduceRow = struct {
	key    string
	labels *seriesstore.Series
	points []Sample
}

func reduceByLabel(rows []reduceRow, label, reduce string) ([]LabeledSample, error) {
	groups := make(map[string][]reduceRow)
	var order []string
	for _, r := range rows {
		v, _ := r.labels.Labels.Get(label)
		if _, seen := groups[v]; !seen {
			order = append(order, v)
		}
		groups[v] = append(groups[v], r)
	}
	sort.Strings(order)

	out := make([]LabeledSample, 0, len(order))
	for _, v := range order {
		pts, err := reducePoints(groups[v], reduce)
		if err != nil {
			return nil, err
		}
		out = append(out, LabeledSample{Key: label + "=" + v, Labels: map[string]string{label: v}, Points: pts})
	}
	return out, nil
}

// reducePoints combines same-timestamp points across rows under op.
// Rows are expected to share a common time grid (true whenever they
// share the same RANGE/bucket parameters, as MRANGE requires).
func reducePoints(rows []reduceRow, op string) ([]Sample, error) {
	byTS := make(map[int64][]float64)
	var order []int64
	for _, r := range rows {
		for _, p := range r.points {
			if _, seen := byTS[p.TS]; !seen {
				order = append(order, p.TS)
			}
			byTS[p.TS] = append(byTS[p.TS], p.Val)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]Sample, 0, len(order))
	for _, ts := range order {
		vals := byTS[ts]
		v, err := reduceValues(vals, op)
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{TS: ts, Val: v})
	}
	return out, nil
}

func reduceValues(vals []float64, op string) (float64, error) {
	switch op {
	case "sum", "":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s, nil
	case "avg":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals)), nil
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	default:
		return 0, tserr.New(tserr.ArgsError, "unknown REDUCE op %q", op)
	}
}
