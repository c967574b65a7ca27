package selfmetrics

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultBuckets covers 1ms-10s, tuned for tsdb_query_duration_seconds
// and other request-latency-shaped measurements.
var DefaultBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

type bucketSet struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newBucketSet(buckets []float64) *bucketSet {
	return &bucketSet{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (bs *bucketSet) observe(value float64) {
	bs.count++
	bs.sum += value
	for i, bound := range bs.buckets {
		if value <= bound {
			bs.counts[i]++
		}
	}
}

// Histogram buckets observed values (cumulative, Prometheus-style),
// used for tsdb_query_duration_seconds.
type Histogram struct {
	name    string
	buckets []float64
	mu      sync.Mutex
	sets    map[string]*bucketSet
}

// NewHistogram creates a named histogram with DefaultBuckets.
func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, buckets: DefaultBuckets, sets: make(map[string]*bucketSet)}
}

// Observe records value for the given label combination.
func (h *Histogram) Observe(value float64, labels ...string) {
	key := makeKey(labels...)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sets[key] == nil {
		h.sets[key] = newBucketSet(h.buckets)
	}
	h.sets[key].observe(value)
}

// Snapshot returns cumulative bucket counts, sum, and count samples
// for every label combination observed so far.
func (h *Histogram) Snapshot() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Sample
	for key, bs := range h.sets {
		if bs.count == 0 {
			continue
		}
		labels := keyToLabels(key)
		for i, bound := range bs.buckets {
			bucketLabels := copyLabels(labels)
			if bucketLabels == nil {
				bucketLabels = make(map[string]string, 1)
			}
			bucketLabels["le"] = formatBound(bound)
			out = append(out, Sample{Name: h.name + "_bucket", Type: HistogramType, Value: float64(bs.counts[i]), Labels: bucketLabels})
		}
		out = append(out, Sample{Name: h.name + "_sum", Type: HistogramType, Value: bs.sum, Labels: copyLabels(labels)})
		out = append(out, Sample{Name: h.name + "_count", Type: HistogramType, Value: float64(bs.count), Labels: copyLabels(labels)})
	}
	return out
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatBound(bound float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", bound), "0"), ".")
}
