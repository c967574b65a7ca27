package selfmetrics

import "sync"

// Gauge is a value that can move up or down, used for
// tsdb_active_series and similar.
type Gauge struct {
	name string
	mu   sync.RWMutex
	vals map[string]float64
}

// NewGauge creates a named gauge.
func NewGauge(name string) *Gauge {
	return &Gauge{name: name, vals: make(map[string]float64)}
}

// Set sets the gauge to value for the given label combination.
func (g *Gauge) Set(value float64, labels ...string) {
	key := makeKey(labels...)
	g.mu.Lock()
	g.vals[key] = value
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc(labels ...string) { g.Add(1, labels...) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec(labels ...string) { g.Add(-1, labels...) }

// Add adds value (may be negative) to the gauge.
func (g *Gauge) Add(value float64, labels ...string) {
	key := makeKey(labels...)
	g.mu.Lock()
	g.vals[key] += value
	g.mu.Unlock()
}

// Snapshot returns one Sample per label combination observed so far.
func (g *Gauge) Snapshot() []Sample {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Sample, 0, len(g.vals))
	for key, v := range g.vals {
		out = append(out, Sample{Name: g.name, Type: GaugeType, Value: v, Labels: keyToLabels(key)})
	}
	return out
}
