package selfmetrics

// Registry is the fixed set of self-metrics pkg/adapter updates on the
// write and query paths, snapshotted for STATS.
type Registry struct {
	SamplesIngested *Counter
	QueriesTotal    *Counter
	QueryDuration   *Histogram
	ActiveSeries    *Gauge
}

// NewRegistry creates the engine's self-metrics with their spec.md-ish
// names (tsdb_* prefix).
func NewRegistry() *Registry {
	return &Registry{
		SamplesIngested: NewCounter("tsdb_samples_ingested_total"),
		QueriesTotal:    NewCounter("tsdb_queries_total"),
		QueryDuration:   NewHistogram("tsdb_query_duration_seconds"),
		ActiveSeries:    NewGauge("tsdb_active_series"),
	}
}

// Snapshot collects every metric's current samples into one slice.
func (r *Registry) Snapshot() []Sample {
	var out []Sample
	out = append(out, r.SamplesIngested.Snapshot()...)
	out = append(out, r.QueriesTotal.Snapshot()...)
	out = append(out, r.QueryDuration.Snapshot()...)
	out = append(out, r.ActiveSeries.Snapshot()...)
	return out
}
