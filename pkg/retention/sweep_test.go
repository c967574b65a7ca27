package retention

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/tinyseries/pkg/fabric"
	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
)

type fakeRegistry struct {
	series map[uint32]*seriesstore.Series
}

func (f *fakeRegistry) AllSeriesIDs() []uint32 {
	ids := make([]uint32, 0, len(f.series))
	for id := range f.series {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRegistry) Series(id uint32) (*seriesstore.Series, bool) {
	s, ok := f.series[id]
	return s, ok
}

func mustLabels(t *testing.T, metric string) labelset.LabelSet {
	t.Helper()
	ls, err := labelset.NewBuilder().SetMetricName(metric).Build()
	if err != nil {
		t.Fatalf("build labels: %v", err)
	}
	return ls
}

func TestSweeperTrimsExpiredChunks(t *testing.T) {
	cfg := seriesstore.DefaultConfig()
	cfg.RetentionMS = 1000
	s := seriesstore.New(1, mustLabels(t, "cpu"), cfg)
	if _, _, err := s.Add(0, 0, 1); err != nil {
		t.Fatalf("add: %v", err)
	}

	reg := &fakeRegistry{series: map[uint32]*seriesstore.Series{1: s}}
	sw := New(reg, fabric.New(2), time.Hour)

	// Call runOnce directly rather than waiting on Run's ticker, to keep
	// the test deterministic. runOnce uses wall-clock "now", which is far
	// past the 1000ms retention of the sample at ts 0.
	sw.runOnce(context.Background())

	far := int64(10_000_000)
	if got := s.Range(0, far); len(got) != 0 {
		t.Fatalf("expected chunk trimmed away, got %d samples", len(got))
	}
}

func TestSweeperVisitsAllSeriesInParallel(t *testing.T) {
	reg := &fakeRegistry{series: make(map[uint32]*seriesstore.Series)}
	for i := uint32(0); i < 20; i++ {
		cfg := seriesstore.DefaultConfig()
		s := seriesstore.New(seriesstore.SeriesID(i), mustLabels(t, "cpu"), cfg)
		if _, _, err := s.Add(0, 0, float64(i)); err != nil {
			t.Fatalf("add: %v", err)
		}
		reg.series[i] = s
	}

	sw := New(reg, fabric.New(4), time.Hour)
	sw.runOnce(context.Background())

	if sw.LastError() != nil {
		t.Fatalf("expected no sweep error, got %v", sw.LastError())
	}
}
