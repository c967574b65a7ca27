// Package index implements the process-wide inverted label index:
// label -> {value -> bitmap<series_id>} postings backed by roaring
// bitmaps, with an LRU-cached regex matcher for =~/!~ selection.
package index

import (
	"regexp"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

const shardCount = 16
const regexCacheSize = 256

// shard owns a disjoint subset of label names, striped by hash(name), so
// writes to unrelated labels never contend. Reads take the shard's
// RLock and return bitmap clones, so callers can mutate freely.
type shard struct {
	mu     sync.RWMutex
	values map[string]map[string]*roaring.Bitmap
}

func newShard() *shard {
	return &shard{values: make(map[string]map[string]*roaring.Bitmap)}
}

// Index is the process-wide postings store plus a compiled-regex cache.
type Index struct {
	shards      [shardCount]*shard
	regexCache  *lru.Cache[string, *regexp.Regexp]
	allSeriesMu sync.RWMutex
	allSeries   *roaring.Bitmap
}

// New creates an empty index.
func New() *Index {
	cache, _ := lru.New[string, *regexp.Regexp](regexCacheSize)
	idx := &Index{regexCache: cache, allSeries: roaring.New()}
	for i := range idx.shards {
		idx.shards[i] = newShard()
	}
	return idx
}

func (idx *Index) shardFor(name string) *shard {
	return idx.shards[fnv32(name)%shardCount]
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// Insert registers a series under every (name,value) pair in labels.
func (idx *Index) Insert(id uint32, labels labelset.LabelSet) {
	labels.Range(func(name, value string) {
		sh := idx.shardFor(name)
		sh.mu.Lock()
		values, ok := sh.values[name]
		if !ok {
			values = make(map[string]*roaring.Bitmap)
			sh.values[name] = values
		}
		bm, ok := values[value]
		if !ok {
			bm = roaring.New()
			values[value] = bm
		}
		bm.Add(id)
		sh.mu.Unlock()
	})

	idx.allSeriesMu.Lock()
	idx.allSeries.Add(id)
	idx.allSeriesMu.Unlock()
}

// Remove unregisters a series from every (name,value) posting in labels,
// dropping now-empty value/name entries.
func (idx *Index) Remove(id uint32, labels labelset.LabelSet) {
	labels.Range(func(name, value string) {
		sh := idx.shardFor(name)
		sh.mu.Lock()
		if values, ok := sh.values[name]; ok {
			if bm, ok := values[value]; ok {
				bm.Remove(id)
				if bm.IsEmpty() {
					delete(values, value)
				}
			}
			if len(values) == 0 {
				delete(sh.values, name)
			}
		}
		sh.mu.Unlock()
	})

	idx.allSeriesMu.Lock()
	idx.allSeries.Remove(id)
	idx.allSeriesMu.Unlock()
}

// Replace atomically (from a caller's perspective) moves a series from
// its old label set to a new one.
func (idx *Index) Replace(id uint32, old, new labelset.LabelSet) {
	idx.Remove(id, old)
	idx.Insert(id, new)
}

// LabelNames returns every label name with at least one posting, sorted.
func (idx *Index) LabelNames() []string {
	var out []string
	for _, sh := range idx.shards {
		sh.mu.RLock()
		for name := range sh.values {
			out = append(out, name)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// LabelValues returns up to limit values observed for name, sorted.
// limit <= 0 means unbounded.
func (idx *Index) LabelValues(name string, limit int) []string {
	sh := idx.shardFor(name)
	sh.mu.RLock()
	values := sh.values[name]
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sh.mu.RUnlock()

	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// postingsFor returns a clone of the bitmap for (name,value), or an empty
// bitmap if absent.
func (idx *Index) postingsFor(name, value string) *roaring.Bitmap {
	sh := idx.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if values, ok := sh.values[name]; ok {
		if bm, ok := values[value]; ok {
			return bm.Clone()
		}
	}
	return roaring.New()
}

// allWithLabel returns the union of every value's postings for name.
func (idx *Index) allWithLabel(name string) *roaring.Bitmap {
	sh := idx.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := roaring.New()
	if values, ok := sh.values[name]; ok {
		for _, bm := range values {
			out.Or(bm)
		}
	}
	return out
}

func (idx *Index) allSeriesSnapshot() *roaring.Bitmap {
	idx.allSeriesMu.RLock()
	defer idx.allSeriesMu.RUnlock()
	return idx.allSeries.Clone()
}

// matchBitmap evaluates a single matcher into its posting bitmap.
func (idx *Index) matchBitmap(m Matcher) (*roaring.Bitmap, error) {
	switch m.Op {
	case Eq:
		if m.Value == "" {
			// L = "" matches series lacking L or with an empty value.
			absent := idx.allSeriesSnapshot()
			absent.AndNot(idx.allWithLabel(m.Name))
			absent.Or(idx.postingsFor(m.Name, ""))
			return absent, nil
		}
		return idx.postingsFor(m.Name, m.Value), nil
	case Neq:
		if m.Value == "" {
			// L != "" matches series that have L with any non-empty value.
			withLabel := idx.allWithLabel(m.Name)
			withLabel.AndNot(idx.postingsFor(m.Name, ""))
			return withLabel, nil
		}
		all := idx.allWithLabel(m.Name)
		all.AndNot(idx.postingsFor(m.Name, m.Value))
		return all, nil
	case RegexMatch, RegexNotMatch:
		re, err := idx.compileRegex(m.Value)
		if err != nil {
			return nil, err
		}
		union := roaring.New()
		for _, v := range idx.LabelValues(m.Name, 0) {
			if re.MatchString(v) {
				union.Or(idx.postingsFor(m.Name, v))
			}
		}
		if m.Op == RegexMatch {
			return union, nil
		}
		all := idx.allWithLabel(m.Name)
		all.AndNot(union)
		return all, nil
	default:
		return nil, tserr.New(tserr.ArgsError, "unknown matcher op %d", m.Op)
	}
}

func (idx *Index) compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := idx.regexCache.Get(pattern); ok {
		return re, nil
	}
	anchored := "^(?:" + pattern + ")$"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, tserr.Wrap(tserr.ParseError, err, "invalid regex %q", pattern)
	}
	idx.regexCache.Add(pattern, re)
	return re, nil
}

// Select ANDs every matcher's postings, evaluating the smallest bitmap
// first to shrink intermediate intersections.
func (idx *Index) Select(matchers []Matcher) (*roaring.Bitmap, error) {
	if len(matchers) == 0 {
		return idx.allSeriesSnapshot(), nil
	}

	bitmaps := make([]*roaring.Bitmap, 0, len(matchers))
	for _, m := range matchers {
		bm, err := idx.matchBitmap(m)
		if err != nil {
			return nil, err
		}
		bitmaps = append(bitmaps, bm)
	}
	sort.Slice(bitmaps, func(i, j int) bool {
		return bitmaps[i].GetCardinality() < bitmaps[j].GetCardinality()
	})

	result := bitmaps[0]
	for _, bm := range bitmaps[1:] {
		result.And(bm)
	}
	return result, nil
}

// SelectGroups OR's the results of multiple AND'd selector groups,
// implementing multi-FILTER semantics.
func (idx *Index) SelectGroups(groups [][]Matcher) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, g := range groups {
		bm, err := idx.Select(g)
		if err != nil {
			return nil, err
		}
		out.Or(bm)
	}
	return out, nil
}

// Cardinality returns the number of series matched by groups.
func (idx *Index) Cardinality(groups [][]Matcher) (uint64, error) {
	bm, err := idx.SelectGroups(groups)
	if err != nil {
		return 0, err
	}
	return bm.GetCardinality(), nil
}
