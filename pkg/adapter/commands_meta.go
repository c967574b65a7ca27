package adapter

import (
	"sort"

	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/limits"
)

// CardOptions bounds CARD's optional time window: a series only counts
// if it has at least one sample in [Start, End].
type CardOptions struct {
	Start, End *int64
}

// Card returns the number of series matching groups, optionally
// restricted to series with data in a time window.
func (e *Engine) Card(groups [][]index.Matcher, opts CardOptions) (uint64, error) {
	bm, err := e.idx.SelectGroups(groups)
	if err != nil {
		return 0, err
	}
	if opts.Start == nil && opts.End == nil {
		return bm.GetCardinality(), nil
	}

	from, to := int64(0), maxTimestamp
	if opts.Start != nil {
		from = *opts.Start
	}
	if opts.End != nil {
		to = *opts.End
	}

	var n uint64
	for _, id := range bm.ToArray() {
		s, ok := e.Series(id)
		if !ok {
			continue
		}
		if len(s.Range(from, to)) > 0 {
			n++
		}
	}
	return n, nil
}

// LabelNames returns every label name with at least one live series.
func (e *Engine) LabelNames() []string { return e.idx.LabelNames() }

// LabelValues returns the observed values for name.
func (e *Engine) LabelValues(name string) []string { return e.idx.LabelValues(name, 0) }

// QueryIndex returns the key and label set of every series matching
// groups, without any sample data.
func (e *Engine) QueryIndex(groups [][]index.Matcher) ([]LabeledSample, error) {
	bm, err := e.idx.SelectGroups(groups)
	if err != nil {
		return nil, err
	}
	out := make([]LabeledSample, 0, bm.GetCardinality())
	for _, id := range bm.ToArray() {
		s, ok := e.Series(id)
		if !ok {
			continue
		}
		labels := make(map[string]string)
		s.Labels.Range(func(name, value string) { labels[name] = value })
		out = append(out, LabeledSample{Key: s.Labels.Name(), Labels: labels})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Stats reports engine-wide counters for the STATS command: cardinality
// usage, self-metrics, and optionally a per-label-value breakdown of
// series counts when labelNames is non-empty.
type Stats struct {
	Cardinality limits.Stats
	SelfMetrics map[string]float64
	ByLabel     map[string]map[string]int // label name -> value -> series count
}

// Stats gathers STATS's reply. labelNames requests a per-value series
// count breakdown for each named label; limit caps the number of
// distinct values reported per label (0 means unbounded).
func (e *Engine) Stats(labelNames []string, limit int) Stats {
	st := Stats{
		Cardinality: e.tracker.Stats(),
		SelfMetrics: make(map[string]float64),
	}
	for _, sample := range e.Metrics.Snapshot() {
		st.SelfMetrics[sample.Name] = sample.Value
	}
	if len(labelNames) == 0 {
		return st
	}

	st.ByLabel = make(map[string]map[string]int, len(labelNames))
	for _, name := range labelNames {
		values := e.idx.LabelValues(name, limit)
		counts := make(map[string]int, len(values))
		for _, v := range values {
			bm, err := e.idx.Select([]index.Matcher{{Name: name, Op: index.Eq, Value: v}})
			if err != nil {
				continue
			}
			counts[v] = int(bm.GetCardinality())
		}
		st.ByLabel[name] = counts
	}
	return st
}
