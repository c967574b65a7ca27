package selfmetrics

import "testing"

func TestCounterAccumulatesPerLabelCombination(t *testing.T) {
	c := NewCounter("tsdb_samples_ingested_total")
	c.Inc("metric", "cpu")
	c.Add(4, "metric", "cpu")
	c.Inc("metric", "mem")

	snap := c.Snapshot()
	totals := map[string]float64{}
	for _, s := range snap {
		totals[s.Labels["metric"]] = s.Value
	}
	if totals["cpu"] != 5 {
		t.Fatalf("expected cpu=5, got %v", totals["cpu"])
	}
	if totals["mem"] != 1 {
		t.Fatalf("expected mem=1, got %v", totals["mem"])
	}
}

func TestCounterIgnoresNegativeAdd(t *testing.T) {
	c := NewCounter("x")
	c.Add(-5)
	if got := c.Snapshot(); len(got) != 0 {
		t.Fatalf("expected negative add to be ignored, got %+v", got)
	}
}

func TestGaugeSetIncDec(t *testing.T) {
	g := NewGauge("tsdb_active_series")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	snap := g.Snapshot()
	if len(snap) != 1 || snap[0].Value != 9 {
		t.Fatalf("expected gauge 9, got %+v", snap)
	}
}

func TestHistogramObserveBucketsAndSum(t *testing.T) {
	h := NewHistogram("tsdb_query_duration_seconds")
	h.Observe(0.02)
	h.Observe(0.2)
	h.Observe(3.0)

	snap := h.Snapshot()
	var sum, count float64
	for _, s := range snap {
		if s.Name == "tsdb_query_duration_seconds_sum" {
			sum = s.Value
		}
		if s.Name == "tsdb_query_duration_seconds_count" {
			count = s.Value
		}
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %v", count)
	}
	if sum < 3.21 || sum > 3.23 {
		t.Fatalf("expected sum ~3.22, got %v", sum)
	}
}

func TestRegistrySnapshotCoversAllMetrics(t *testing.T) {
	r := NewRegistry()
	r.SamplesIngested.Inc()
	r.ActiveSeries.Set(5)
	r.QueryDuration.Observe(0.01)
	r.QueriesTotal.Inc()

	snap := r.Snapshot()
	names := map[string]bool{}
	for _, s := range snap {
		names[s.Name] = true
	}
	for _, want := range []string{"tsdb_samples_ingested_total", "tsdb_active_series", "tsdb_queries_total"} {
		if !names[want] {
			t.Fatalf("expected %s in snapshot, got %+v", want, names)
		}
	}
}
