package limits

import (
	"testing"

	"github.com/nicktill/tinyseries/pkg/labelset"
)

func mustLabels(t *testing.T, metric string, pairs ...string) labelset.LabelSet {
	t.Helper()
	b := labelset.NewBuilder().SetMetricName(metric)
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Set(pairs[i], pairs[i+1])
	}
	ls, err := b.Build()
	if err != nil {
		t.Fatalf("build labels: %v", err)
	}
	return ls
}

func TestTrackerAllowsNewAndRepeatedSeries(t *testing.T) {
	tr := NewTracker(100, 100)
	a := mustLabels(t, "cpu", "host", "server1")

	if err := tr.Check(a); err != nil {
		t.Fatalf("check new series: %v", err)
	}
	tr.Record(a)
	if err := tr.Check(a); err != nil {
		t.Fatalf("check existing series: %v", err)
	}

	b := mustLabels(t, "cpu", "host", "server2")
	if err := tr.Check(b); err != nil {
		t.Fatalf("check different series: %v", err)
	}
	tr.Record(b)

	stats := tr.Stats()
	if stats.TotalSeries != 2 {
		t.Fatalf("expected 2 total series, got %d", stats.TotalSeries)
	}
	if stats.UniqueMetrics != 1 {
		t.Fatalf("expected 1 unique metric, got %d", stats.UniqueMetrics)
	}
}

func TestTrackerEnforcesPerMetricLimit(t *testing.T) {
	tr := NewTracker(1000, 2)
	tr.Record(mustLabels(t, "cpu", "host", "a"))
	tr.Record(mustLabels(t, "cpu", "host", "b"))

	third := mustLabels(t, "cpu", "host", "c")
	if err := tr.Check(third); err != ErrMetricCardinalityLimit {
		t.Fatalf("expected ErrMetricCardinalityLimit, got %v", err)
	}

	other := mustLabels(t, "mem", "host", "a")
	if err := tr.Check(other); err != nil {
		t.Fatalf("different metric should still be allowed: %v", err)
	}
}

func TestTrackerEnforcesTotalLimit(t *testing.T) {
	tr := NewTracker(2, 1000)
	tr.Record(mustLabels(t, "cpu", "host", "a"))
	tr.Record(mustLabels(t, "mem", "host", "a"))

	if err := tr.Check(mustLabels(t, "disk", "host", "a")); err != ErrCardinalityLimit {
		t.Fatalf("expected ErrCardinalityLimit, got %v", err)
	}
}

func TestValidateLabelCountRejectsOverLimit(t *testing.T) {
	if err := ValidateLabelCount(MaxLabelsPerSeries); err != nil {
		t.Fatalf("expected limit itself to be allowed: %v", err)
	}
	if err := ValidateLabelCount(MaxLabelsPerSeries + 1); err == nil {
		t.Fatal("expected error over the limit")
	}
}

func TestValidateBatchSizeRejectsOverLimit(t *testing.T) {
	if err := ValidateBatchSize(MaxMetricsPerRequest); err != nil {
		t.Fatalf("expected limit itself to be allowed: %v", err)
	}
	if err := ValidateBatchSize(MaxMetricsPerRequest + 1); err == nil {
		t.Fatal("expected error over the limit")
	}
}
