package query

import (
	"testing"

	"github.com/RoaringBitmap/roaring"

	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/metricsql"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
)

// fakeLookup is a minimal in-memory SeriesLookup backed by a real
// pkg/index.Index and real pkg/seriesstore.Series, so evaluator tests
// exercise the same matching code the adapter's registry will use.
type fakeLookup struct {
	idx    *index.Index
	series map[uint32]*seriesstore.Series
	nextID uint32
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{idx: index.New(), series: make(map[uint32]*seriesstore.Series)}
}

func mustLabels(t *testing.T, pairs ...string) labelset.LabelSet {
	t.Helper()
	b := labelset.NewBuilder()
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Set(pairs[i], pairs[i+1])
	}
	ls, err := b.Build()
	if err != nil {
		t.Fatalf("build labels: %v", err)
	}
	return ls
}

// addSeries creates a series with the given labels and samples
// (alternating ts, val), returning it for further writes.
func (f *fakeLookup) addSeries(t *testing.T, labels labelset.LabelSet, samples ...float64) *seriesstore.Series {
	t.Helper()
	id := f.nextID
	f.nextID++
	s := seriesstore.New(seriesstore.SeriesID(id), labels, seriesstore.DefaultConfig())
	f.series[id] = s
	f.idx.Insert(id, labels)
	for i := 0; i+1 < len(samples); i += 2 {
		ts := int64(samples[i])
		v := samples[i+1]
		if _, _, err := s.Add(ts, ts, v); err != nil {
			t.Fatalf("add sample: %v", err)
		}
	}
	return s
}

func (f *fakeLookup) SelectGroups(groups [][]index.Matcher) (*roaring.Bitmap, error) {
	return f.idx.SelectGroups(groups)
}

func (f *fakeLookup) Series(id uint32) (*seriesstore.Series, bool) {
	s, ok := f.series[id]
	return s, ok
}

func mustParseExpr(t *testing.T, src string) metricsql.Expr {
	t.Helper()
	p := metricsql.NewParser(src)
	expr, err := p.Parse()
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return expr
}
