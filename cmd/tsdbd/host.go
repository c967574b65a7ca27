package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nicktill/tinyseries/pkg/adapter"
	"github.com/nicktill/tinyseries/pkg/config"
	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/retention"
	"github.com/nicktill/tinyseries/pkg/seriesstore"
	"github.com/nicktill/tinyseries/pkg/server/monitor"
)

// seriesKeyPrefix namespaces every persisted series record in the
// Badger keyspace, leaving room for future host-side record types
// without a key collision.
const seriesKeyPrefix = "series:"

// HostConfig configures a Host's storage limits, worker pool, and
// background sweep cadence.
type HostConfig struct {
	DataDir                string
	MaxStorageBytes        int64
	MaxMemoryMB            int64
	MaxWorkers             int
	RetentionSweepInterval time.Duration
	PersistInterval        time.Duration
}

// Host is the illustrative standalone daemon spec.md §1 asks a
// surrounding datastore to provide: it owns the in-memory Engine, a
// Badger-backed keyspace that snapshots each dirty series through the
// engine's opaque Serialize/Deserialize hook, the background retention
// sweep, and storage/compaction health monitoring. None of this
// persistence lives inside the engine itself; the engine stays
// in-memory-only per spec.md's Non-goals.
type Host struct {
	Engine  *adapter.Engine
	db      *badger.DB
	dataDir string

	sweeper    *retention.Sweeper
	storageMon *monitor.StorageMonitor
	persistMon *monitor.CompactionMonitor

	persistInterval time.Duration

	mu    sync.Mutex
	dirty map[string]bool
}

// NewHost opens the Badger keyspace at cfg.DataDir, reloads any
// previously persisted series into a fresh Engine, and returns a Host
// ready to Run.
func NewHost(cfg HostConfig) (*Host, error) {
	opts := badger.DefaultOptions(cfg.DataDir)
	if cfg.MaxMemoryMB > 0 {
		memTableSize := cfg.MaxMemoryMB * 1024 * 1024 / 3
		opts = opts.
			WithMemTableSize(memTableSize).
			WithBlockCacheSize(memTableSize / 2).
			WithIndexCacheSize(memTableSize / 4).
			WithNumMemtables(3)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.DataDir, err)
	}

	engine := adapter.NewEngine(adapter.EngineOptions{MaxWorkers: cfg.MaxWorkers})

	h := &Host{
		Engine:          engine,
		db:              db,
		dataDir:         cfg.DataDir,
		storageMon:      monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes),
		persistMon:      &monitor.CompactionMonitor{},
		persistInterval: cfg.PersistInterval,
		dirty:           make(map[string]bool),
	}
	h.sweeper = retention.New(engine, engine.Pool, cfg.RetentionSweepInterval)

	if err := h.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load persisted series: %w", err)
	}
	return h, nil
}

// seriesRecord is the Badger value format for one persisted series:
// its key, the label pairs needed to rebuild a labelset.LabelSet (the
// engine's Serialize blob carries everything else), and the opaque
// blob itself.
type seriesRecord struct {
	Key    string            `json:"key"`
	Labels map[string]string `json:"labels"`
	Blob   []byte            `json:"blob"`
}

func (h *Host) loadAll() error {
	var records []seriesRecord
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(seriesKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec seriesRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, rec := range records {
		b := labelset.NewBuilder()
		for name, value := range rec.Labels {
			b.Set(name, value)
		}
		ls, err := b.Build()
		if err != nil {
			return fmt.Errorf("rebuild labels for %q: %w", rec.Key, err)
		}
		s, err := seriesstore.Deserialize(rec.Blob, ls)
		if err != nil {
			return fmt.Errorf("deserialize %q: %w", rec.Key, err)
		}
		if err := h.Engine.RestoreSeries(rec.Key, s); err != nil {
			return fmt.Errorf("restore %q: %w", rec.Key, err)
		}
	}
	if len(records) > 0 {
		log.Printf("tsdbd: reloaded %d series from %s", len(records), h.dataDir)
	}
	return nil
}

// MarkDirty records that key's series changed and needs writing back
// on the next persist tick. Router write handlers call this after
// every successful Create/Alter/Add/MAdd/IncrBy/DecrBy/Del.
func (h *Host) MarkDirty(key string) {
	h.mu.Lock()
	h.dirty[key] = true
	h.mu.Unlock()
}

func (h *Host) persistKey(key string) error {
	s, ok := h.Engine.SeriesByKey(key)
	if !ok {
		return nil
	}
	labels := make(map[string]string)
	s.Labels.Range(func(name, value string) { labels[name] = value })

	rec := seriesRecord{Key: key, Labels: labels, Blob: s.Serialize()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(seriesKeyPrefix+key), data)
	})
}

// persistDirty flushes every key touched since the last tick.
func (h *Host) persistDirty() {
	h.mu.Lock()
	keys := make([]string, 0, len(h.dirty))
	for k := range h.dirty {
		keys = append(keys, k)
	}
	h.dirty = make(map[string]bool)
	h.mu.Unlock()

	failed := false
	for _, k := range keys {
		if err := h.persistKey(k); err != nil {
			h.persistMon.RecordFailure(err)
			log.Printf("tsdbd: failed to persist %q: %v", k, err)
			failed = true
		}
	}
	if !failed {
		h.persistMon.RecordSuccess()
	}
}

// Run starts the background persistence ticker and retention sweeper,
// blocking until ctx is cancelled. On return it flushes every
// remaining dirty key so a clean shutdown never loses writes made
// since the last tick.
func (h *Host) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.sweeper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.persistDirty()
			case <-ctx.Done():
				h.persistDirty()
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runBadgerGC(ctx)
	}()

	wg.Wait()
}

// runBadgerGC reclaims value-log space on an interval. BadgerDB's LSM
// tree leaves deleted/overwritten values behind until compacted; left
// unattended, the persisted-series keyspace grows unbounded as series
// are repeatedly re-persisted on every dirty tick.
func (h *Host) runBadgerGC(ctx context.Context) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for h.db.RunValueLogGC(0.5) == nil {
				// keep reclaiming while there's garbage worth a rewrite
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes any remaining dirty keys and closes the Badger handle.
func (h *Host) Close() error {
	h.persistDirty()
	return h.db.Close()
}

// StorageUsage reports current/limit bytes for the /v1/storage endpoint.
func (h *Host) StorageUsage() (used, limit int64, err error) {
	used, err = h.storageMon.GetUsage()
	return used, h.storageMon.GetLimit(), err
}

// PersistHealth reports the background persistence sweep's health for
// the /v1/health endpoint.
func (h *Host) PersistHealth() monitor.CompactionStatus { return h.persistMon.Status() }

// splitCommaList splits a comma-separated query parameter, trimming
// whitespace and dropping empty fields, used for LABELNAMES-style
// multi-value query params.
func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
