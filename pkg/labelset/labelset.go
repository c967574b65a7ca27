// Package labelset provides string interning and the canonical LabelSet
// type shared by the series store and the inverted label index.
package labelset

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// MetricName is the reserved label holding the series' metric name.
const MetricName = "__name__"

// MaxValueLength bounds an interned label value, matching spec.md §4.1.
const MaxValueLength = 4096

const shardCount = 16

var nameRe = regexp.MustCompile(`^[A-Za-z_:][A-Za-z0-9_:.]*$`)

// Handle is a stable, process-local reference to an interned string.
// Two equal strings interned from the same shard always return the same
// handle, so handle equality implies string equality.
type Handle uint32

// fwdShard maps strings to handles, striped by hash(string).
type fwdShard struct {
	mu    sync.Mutex
	byStr map[string]Handle
	refs  map[string]int
}

// revShard maps handles back to strings, striped by handle%shardCount so
// Resolve needs no hint about which string produced the handle.
type revShard struct {
	mu   sync.Mutex
	byID map[Handle]string
}

// Interner maps strings to compact handles with reference counting so
// retention trimming can release values nobody holds anymore. Forward and
// reverse lookups are independently shard-striped mutexes, matching the
// one-mutex-per-resource granularity the teacher uses elsewhere
// (memory.Storage.mu, ingest.CardinalityTracker.mu).
type Interner struct {
	fwd    [shardCount]*fwdShard
	rev    [shardCount]*revShard
	nextID atomic.Uint32
}

// NewInterner creates an empty, ready-to-use interner.
func NewInterner() *Interner {
	in := &Interner{}
	for i := range in.fwd {
		in.fwd[i] = &fwdShard{byStr: make(map[string]Handle), refs: make(map[string]int)}
		in.rev[i] = &revShard{byID: make(map[Handle]string)}
	}
	return in
}

func (in *Interner) fwdShardFor(s string) *fwdShard { return in.fwd[fnv32(s)%shardCount] }
func (in *Interner) revShardFor(h Handle) *revShard { return in.rev[uint32(h)%shardCount] }

// Intern returns a stable handle for s, incrementing its refcount.
func (in *Interner) Intern(s string) Handle {
	fs := in.fwdShardFor(s)
	fs.mu.Lock()
	if h, ok := fs.byStr[s]; ok {
		fs.refs[s]++
		fs.mu.Unlock()
		return h
	}
	fs.mu.Unlock()

	h := Handle(in.nextID.Add(1))

	fs.mu.Lock()
	if existing, ok := fs.byStr[s]; ok {
		// Lost a race with a concurrent Intern of the same string.
		fs.refs[s]++
		fs.mu.Unlock()
		return existing
	}
	fs.byStr[s] = h
	fs.refs[s] = 1
	fs.mu.Unlock()

	rs := in.revShardFor(h)
	rs.mu.Lock()
	rs.byID[h] = s
	rs.mu.Unlock()
	return h
}

// Resolve returns the string behind a handle previously returned by Intern.
func (in *Interner) Resolve(h Handle) (string, bool) {
	rs := in.revShardFor(h)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	s, ok := rs.byID[h]
	return s, ok
}

// Release decrements s's refcount, freeing the mapping once it reaches zero.
func (in *Interner) Release(s string) {
	fs := in.fwdShardFor(s)
	fs.mu.Lock()
	h, ok := fs.byStr[s]
	if !ok {
		fs.mu.Unlock()
		return
	}
	fs.refs[s]--
	drop := fs.refs[s] <= 0
	if drop {
		delete(fs.byStr, s)
		delete(fs.refs, s)
	}
	fs.mu.Unlock()

	if drop {
		rs := in.revShardFor(h)
		rs.mu.Lock()
		delete(rs.byID, h)
		rs.mu.Unlock()
	}
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

// LabelSet is a sorted-by-name mapping from label name to label value,
// with unique names. The metric name lives under the reserved
// MetricName label like in Prometheus.
type LabelSet struct {
	names  []string
	values []string
}

// Builder constructs a LabelSet, sorting and validating on Build.
type Builder struct {
	pairs map[string]string
	err   error
}

// IsValidName reports whether s matches the label/metric name grammar
// `[A-Za-z_:][A-Za-z0-9_:.]*`.
func IsValidName(s string) bool { return nameRe.MatchString(s) }

// NewBuilder creates an empty label set builder.
func NewBuilder() *Builder {
	return &Builder{pairs: make(map[string]string)}
}

// Set adds or overwrites a label=value pair, validating the name and
// capping the value length per spec.md §4.1.
func (b *Builder) Set(name, value string) *Builder {
	if b.err != nil {
		return b
	}
	if !nameRe.MatchString(name) {
		b.err = fmt.Errorf("labelset: invalid label name %q", name)
		return b
	}
	if len(value) > MaxValueLength {
		b.err = fmt.Errorf("labelset: value for %q exceeds %d bytes", name, MaxValueLength)
		return b
	}
	b.pairs[name] = value
	return b
}

// SetMetricName is shorthand for Set(MetricName, name).
func (b *Builder) SetMetricName(name string) *Builder {
	return b.Set(MetricName, name)
}

// Build finalizes the LabelSet, sorted by name. Duplicate names are not
// rejected: Set overwrites the earlier value for a repeated name, so
// Build cannot fail on duplicates; it can still fail on a prior Set error.
func (b *Builder) Build() (LabelSet, error) {
	if b.err != nil {
		return LabelSet{}, b.err
	}
	names := make([]string, 0, len(b.pairs))
	for n := range b.pairs {
		names = append(names, n)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, n := range names {
		values[i] = b.pairs[n]
	}
	return LabelSet{names: names, values: values}, nil
}

// Get returns the value for name and whether it was present.
func (ls LabelSet) Get(name string) (string, bool) {
	i := sort.SearchStrings(ls.names, name)
	if i < len(ls.names) && ls.names[i] == name {
		return ls.values[i], true
	}
	return "", false
}

// Name returns the metric name (the reserved __name__ label), or "" if unset.
func (ls LabelSet) Name() string {
	v, _ := ls.Get(MetricName)
	return v
}

// Len returns the number of label pairs, including __name__ if set.
func (ls LabelSet) Len() int { return len(ls.names) }

// Range calls fn for every label pair in sorted-by-name order.
func (ls LabelSet) Range(fn func(name, value string)) {
	for i, n := range ls.names {
		fn(n, ls.values[i])
	}
}

// Names returns the sorted label names (including __name__ if set). The
// returned slice must not be mutated.
func (ls LabelSet) Names() []string { return ls.names }

// WithoutMetricName returns the label names and values excluding __name__,
// used when stripping the metric name for vector matching (spec.md §4.7).
func (ls LabelSet) WithoutMetricName() LabelSet {
	names := make([]string, 0, len(ls.names))
	values := make([]string, 0, len(ls.names))
	for i, n := range ls.names {
		if n == MetricName {
			continue
		}
		names = append(names, n)
		values = append(values, ls.values[i])
	}
	return LabelSet{names: names, values: values}
}

// Fingerprint returns a stable 64-bit hash over the sorted (name,value)
// pairs. Two LabelSets with equal fingerprint are equal byte-for-byte,
// since both are canonicalized the same way by Builder.Build.
func (ls LabelSet) Fingerprint() uint64 {
	var sb strings.Builder
	for i, n := range ls.names {
		sb.WriteString(n)
		sb.WriteByte('=')
		sb.WriteString(ls.values[i])
		sb.WriteByte(0)
	}
	return xxhash.Sum64String(sb.String())
}

// Equal reports whether two label sets contain exactly the same pairs.
func (ls LabelSet) Equal(other LabelSet) bool {
	if len(ls.names) != len(other.names) {
		return false
	}
	for i := range ls.names {
		if ls.names[i] != other.names[i] || ls.values[i] != other.values[i] {
			return false
		}
	}
	return true
}

// String renders the LabelSet Prometheus-style: name{l1="v1",l2="v2"}.
func (ls LabelSet) String() string {
	var sb strings.Builder
	sb.WriteString(ls.Name())
	first := true
	sb.WriteByte('{')
	for i, n := range ls.names {
		if n == MetricName {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(n)
		sb.WriteString(`="`)
		sb.WriteString(ls.values[i])
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}
