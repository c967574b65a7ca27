// Package limits enforces the engine-wide cardinality ceilings and
// per-series validation rules a write-path guard needs before handing
// a new key to pkg/seriesstore/pkg/index.
package limits

import (
	"sync"
	"time"

	"github.com/nicktill/tinyseries/pkg/labelset"
)

// Constants for memory safety.
const (
	seriesRetentionPeriod = 24 * time.Hour
	cleanupInterval       = 1 * time.Hour
)

// Tracker tracks unique series by fingerprint to enforce cardinality
// limits, periodically forgetting series it hasn't seen recently so
// long-running processes don't grow this map without bound.
type Tracker struct {
	mu sync.RWMutex

	maxTotal     int
	maxPerMetric int
	seriesCount  map[string]int       // metric name -> count
	seriesSeen   map[uint64]seenEntry // fingerprint -> (metric, lastSeen)
	totalSeries  int
	lastCleanup  time.Time
}

type seenEntry struct {
	metric   string
	lastSeen time.Time
}

// NewTracker creates a Tracker enforcing the given total and
// per-metric series caps.
func NewTracker(maxTotal, maxPerMetric int) *Tracker {
	return &Tracker{
		maxTotal:     maxTotal,
		maxPerMetric: maxPerMetric,
		seriesCount:  make(map[string]int),
		seriesSeen:   make(map[uint64]seenEntry),
		lastCleanup:  time.Now(),
	}
}

// Check validates that registering labels as a new series wouldn't
// exceed the configured cardinality limits. A labels value already
// seen is always allowed (it isn't a new series).
func (t *Tracker) Check(labels labelset.LabelSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupOldSeriesLocked()

	fp := labels.Fingerprint()
	if _, exists := t.seriesSeen[fp]; exists {
		return nil
	}
	if t.maxTotal > 0 && t.totalSeries >= t.maxTotal {
		return ErrCardinalityLimit
	}
	if t.maxPerMetric > 0 && t.seriesCount[labels.Name()] >= t.maxPerMetric {
		return ErrMetricCardinalityLimit
	}
	return nil
}

// Record marks labels as seen, updating cardinality counters. Call
// after Check passes and the series has actually been created.
func (t *Tracker) Record(labels labelset.LabelSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp := labels.Fingerprint()
	_, existed := t.seriesSeen[fp]
	t.seriesSeen[fp] = seenEntry{metric: labels.Name(), lastSeen: time.Now()}
	if !existed {
		t.seriesCount[labels.Name()]++
		t.totalSeries++
	}
}

// cleanupOldSeriesLocked drops series not seen in seriesRetentionPeriod.
// Must be called with t.mu held.
func (t *Tracker) cleanupOldSeriesLocked() {
	now := time.Now()
	if now.Sub(t.lastCleanup) < cleanupInterval {
		return
	}
	t.lastCleanup = now
	cutoff := now.Add(-seriesRetentionPeriod)

	var toRemove []uint64
	for fp, e := range t.seriesSeen {
		if e.lastSeen.Before(cutoff) {
			toRemove = append(toRemove, fp)
		}
	}
	for _, fp := range toRemove {
		delete(t.seriesSeen, fp)
	}
	if len(toRemove) > 1000 {
		t.rebuildCountsLocked()
	}
}

func (t *Tracker) rebuildCountsLocked() {
	t.seriesCount = make(map[string]int)
	t.totalSeries = 0
	for _, e := range t.seriesSeen {
		t.seriesCount[e.metric]++
		t.totalSeries++
	}
}

// Stats reports current cardinality usage, feeding the STATS command.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var maxMetric string
	var maxCount int
	for name, count := range t.seriesCount {
		if count > maxCount {
			maxCount, maxMetric = count, name
		}
	}

	var utilization float64
	if t.maxTotal > 0 {
		utilization = float64(t.totalSeries) / float64(t.maxTotal) * 100
	}

	return Stats{
		TotalSeries:     t.totalSeries,
		UniqueMetrics:   len(t.seriesCount),
		MaxSeriesMetric: maxMetric,
		MaxSeriesCount:  maxCount,
		SeriesLimit:     t.maxTotal,
		PerMetricLimit:  t.maxPerMetric,
		UtilizationPct:  utilization,
	}
}

// Stats is the cardinality usage snapshot returned by Tracker.Stats.
type Stats struct {
	TotalSeries     int     `json:"total_series"`
	UniqueMetrics   int     `json:"unique_metrics"`
	MaxSeriesMetric string  `json:"max_series_metric"`
	MaxSeriesCount  int     `json:"max_series_count"`
	SeriesLimit     int     `json:"series_limit"`
	PerMetricLimit  int     `json:"per_metric_limit"`
	UtilizationPct  float64 `json:"utilization_percent"`
}
