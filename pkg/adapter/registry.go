package adapter

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/nicktill/tinyseries/pkg/chunk"
	"github.com/nicktill/tinyseries/pkg/fabric"
	"github.com/nicktill/tinyseries/pkg/filter"
	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/limits"
	"github.com/nicktill/tinyseries/pkg/metricsql"
	"github.com/nicktill/tinyseries/pkg/query"
	"github.com/nicktill/tinyseries/pkg/selfmetrics"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// EngineOptions configures the cardinality limits and worker pool size
// a new Engine enforces. Zero values fall back to sane defaults.
type EngineOptions struct {
	MaxSeriesTotal     int
	MaxSeriesPerMetric int
	MaxWorkers         int
}

// Engine is the in-memory command surface: every ts.* command is a
// method on Engine, independent of any transport. It owns the key ->
// series-id mapping, the label index, the cardinality tracker, the
// evaluator, and the fabric worker pool a host's background retention
// sweeper runs on (query evaluation does not use the pool).
type Engine struct {
	mu     sync.RWMutex
	byKey  map[string]uint32
	series map[uint32]*seriesstore.Series
	labels map[uint32][]string // interned name/value strings, released on delete

	interner *labelset.Interner
	idx      *index.Index
	ids      *fabric.IDAllocator
	tracker  *limits.Tracker
	Metrics  *selfmetrics.Registry
	Pool     *fabric.Pool

	eval *query.Evaluator
}

// NewEngine creates an empty Engine ready to accept commands.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		byKey:    make(map[string]uint32),
		series:   make(map[uint32]*seriesstore.Series),
		labels:   make(map[uint32][]string),
		interner: labelset.NewInterner(),
		idx:      index.New(),
		ids:      fabric.NewIDAllocator(),
		tracker:  limits.NewTracker(opts.MaxSeriesTotal, opts.MaxSeriesPerMetric),
		Metrics:  selfmetrics.NewRegistry(),
		Pool:     fabric.New(opts.MaxWorkers),
	}
	e.eval = query.New(e)
	return e
}

func defaultConfig() seriesstore.Config { return seriesstore.DefaultConfig() }

// SelectGroups satisfies query.SeriesLookup and retention isn't needed
// here directly (pkg/retention.Registry only needs AllSeriesIDs/Series).
func (e *Engine) SelectGroups(groups [][]index.Matcher) (*roaring.Bitmap, error) {
	return e.idx.SelectGroups(groups)
}

// Series resolves a series id to its store handle, satisfying both
// query.SeriesLookup and retention.Registry.
func (e *Engine) Series(id uint32) (*seriesstore.Series, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.series[id]
	return s, ok
}

// AllSeriesIDs satisfies retention.Registry.
func (e *Engine) AllSeriesIDs() []uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]uint32, 0, len(e.series))
	for id := range e.series {
		out = append(out, id)
	}
	return out
}

// seriesByKey resolves a command's key argument to its series handle.
func (e *Engine) seriesByKey(key string) (*seriesstore.Series, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.byKey[key]
	if !ok {
		return nil, false
	}
	return e.series[id], true
}

// SeriesByKey is the exported form of seriesByKey, for hosts that need
// direct series access outside the command surface (e.g. cmd/tsdbd's
// persistence layer serializing a single dirty key).
func (e *Engine) SeriesByKey(key string) (*seriesstore.Series, bool) {
	return e.seriesByKey(key)
}

// buildLabels interns key (as __name__) and every label pair, returning
// a canonical LabelSet plus the flattened list of interned strings so
// the caller can release them if series creation is later rolled back
// or the series is deleted.
func (e *Engine) buildLabels(key string, pairs map[string]string) (labelset.LabelSet, []string, error) {
	if err := limits.ValidateLabelCount(len(pairs)); err != nil {
		return labelset.LabelSet{}, nil, tserr.Wrap(tserr.ConstraintViolation, err, "CREATE %s", key)
	}

	interned := make([]string, 0, 2+2*len(pairs))
	intern := func(s string) string {
		h := e.interner.Intern(s)
		resolved, _ := e.interner.Resolve(h)
		interned = append(interned, resolved)
		return resolved
	}

	b := labelset.NewBuilder()
	b.SetMetricName(intern(key))
	for name, value := range pairs {
		b.Set(intern(name), intern(value))
	}
	ls, err := b.Build()
	if err != nil {
		for _, s := range interned {
			e.interner.Release(s)
		}
		return labelset.LabelSet{}, nil, tserr.Wrap(tserr.ArgsError, err, "CREATE %s", key)
	}
	return ls, interned, nil
}

// Create registers a new series under key with the given labels and
// write configuration. Re-creating an existing key is a
// CONSTRAINT_VIOLATION, matching spec.md's "keys are created once"
// invariant.
func (e *Engine) Create(key string, opts CreateOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.byKey[key]; exists {
		return tserr.New(tserr.ConstraintViolation, "key %q already exists", key)
	}

	ls, interned, err := e.buildLabels(key, opts.Labels)
	if err != nil {
		return err
	}

	if err := e.tracker.Check(ls); err != nil {
		for _, s := range interned {
			e.interner.Release(s)
		}
		return tserr.Wrap(tserr.ConstraintViolation, err, "CREATE %s", key)
	}

	cfg := seriesstore.Config{
		RetentionMS:       opts.RetentionMS,
		ChunkSize:         opts.ChunkSize,
		Encoding:          opts.Encoding,
		DuplicatePolicy:   opts.DuplicatePolicy,
		IgnoreMaxTimeDiff: opts.IgnoreMaxTimeDiff,
		IgnoreMaxValDiff:  opts.IgnoreMaxValDiff,
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultMaxSize
	}

	id := e.ids.Next()
	s := seriesstore.New(seriesstore.SeriesID(id), ls, cfg)

	e.byKey[key] = id
	e.series[id] = s
	e.labels[id] = interned
	e.idx.Insert(id, ls)
	e.tracker.Record(ls)
	e.Metrics.ActiveSeries.Inc()
	return nil
}

// Alter applies a configuration delta to an existing key. A non-nil
// opts.Labels re-registers the series' postings under the new label
// set atomically with the swap, per spec.md §4.3.
func (e *Engine) Alter(key string, opts AlterOptions) error {
	s, ok := e.seriesByKey(key)
	if !ok {
		return tserr.New(tserr.NotFound, "key %q not found", key)
	}

	if opts.Labels != nil {
		if err := e.alterLabels(key, s, opts.Labels); err != nil {
			return err
		}
	}

	return s.Alter(seriesstore.ConfigDelta{
		RetentionMS:       opts.RetentionMS,
		DuplicatePolicy:   opts.DuplicatePolicy,
		IgnoreMaxTimeDiff: opts.IgnoreMaxTimeDiff,
		IgnoreMaxValDiff:  opts.IgnoreMaxValDiff,
		ChunkSize:         opts.ChunkSize,
	})
}

// alterLabels swaps s's label set for one built from pairs, replacing
// its index postings and interned label strings under e.mu so no
// reader ever observes the series between the old and new postings.
func (e *Engine) alterLabels(key string, s *seriesstore.Series, pairs map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.byKey[key]
	if !ok {
		return tserr.New(tserr.NotFound, "key %q not found", key)
	}

	newLabels, interned, err := e.buildLabels(key, pairs)
	if err != nil {
		return err
	}
	if err := e.tracker.Check(newLabels); err != nil {
		for _, str := range interned {
			e.interner.Release(str)
		}
		return tserr.Wrap(tserr.ConstraintViolation, err, "ALTER %s", key)
	}

	oldLabels := s.Labels
	oldInterned := e.labels[id]

	s.Labels = newLabels
	e.labels[id] = interned
	e.idx.Replace(id, oldLabels, newLabels)
	e.tracker.Record(newLabels)

	for _, str := range oldInterned {
		e.interner.Release(str)
	}
	return nil
}

// Delete removes a key entirely: its series, index postings, and
// interned label strings.
func (e *Engine) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.byKey[key]
	if !ok {
		return tserr.New(tserr.NotFound, "key %q not found", key)
	}
	s := e.series[id]
	e.idx.Remove(id, s.Labels)
	for _, str := range e.labels[id] {
		e.interner.Release(str)
	}
	delete(e.byKey, key)
	delete(e.series, id)
	delete(e.labels, id)
	e.Metrics.ActiveSeries.Dec()
	return nil
}

// RestoreSeries re-registers a series a host reconstructed via
// seriesstore.Deserialize (e.g. cmd/tsdbd's Badger-backed load-on-boot),
// wiring it into the key map, label index, cardinality tracker and
// interned label strings exactly as Create does, without re-running
// CREATE's validation since the blob was already accepted once.
func (e *Engine) RestoreSeries(key string, s *seriesstore.Series) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.byKey[key]; exists {
		return tserr.New(tserr.ConstraintViolation, "key %q already exists", key)
	}

	interned := make([]string, 0, s.Labels.Len())
	s.Labels.Range(func(name, value string) {
		interned = append(interned, e.internExisting(name), e.internExisting(value))
	})

	id := uint32(s.ID)
	e.byKey[key] = id
	e.series[id] = s
	e.labels[id] = interned
	e.idx.Insert(id, s.Labels)
	e.tracker.Record(s.Labels)
	e.ids.Restore(id + 1)
	e.Metrics.ActiveSeries.Inc()
	return nil
}

func (e *Engine) internExisting(s string) string {
	h := e.interner.Intern(s)
	resolved, _ := e.interner.Resolve(h)
	return resolved
}

// ParseFilter parses one or more FILTER tokens into selector groups,
// the shape every FILTER-accepting command (MGET, RANGE, MRANGE, CARD,
// QUERYINDEX) needs before calling into the index.
func ParseFilter(tokens []string) ([][]index.Matcher, error) {
	if len(tokens) == 0 {
		return nil, tserr.New(tserr.ArgsError, "FILTER requires at least one selector")
	}
	return filter.ParseGroups(tokens)
}

// parseExpr parses a metricsql expression for QUERY/QUERY_RANGE.
func parseExpr(src string) (metricsql.Expr, error) {
	return metricsql.NewParser(src).Parse()
}

// deadlineFrom turns an optional TIMEOUT duration into a wall-clock
// deadline, zero meaning "no deadline".
func deadlineFrom(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
