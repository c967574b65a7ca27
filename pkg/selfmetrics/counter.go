package selfmetrics

import "sync"

// Counter is a monotonically increasing value, split by label
// combination, used for tsdb_samples_ingested_total and similar.
type Counter struct {
	name string
	mu   sync.RWMutex
	vals map[string]float64
}

// NewCounter creates a named counter.
func NewCounter(name string) *Counter {
	return &Counter{name: name, vals: make(map[string]float64)}
}

// Inc increments the counter by 1 for the given label combination.
func (c *Counter) Inc(labels ...string) { c.Add(1, labels...) }

// Add adds value (which must be non-negative) to the counter.
func (c *Counter) Add(value float64, labels ...string) {
	if value < 0 {
		return
	}
	key := makeKey(labels...)
	c.mu.Lock()
	c.vals[key] += value
	c.mu.Unlock()
}

// Snapshot returns one Sample per label combination observed so far.
func (c *Counter) Snapshot() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, 0, len(c.vals))
	for key, v := range c.vals {
		out = append(out, Sample{Name: c.name, Type: CounterType, Value: v, Labels: keyToLabels(key)})
	}
	return out
}
