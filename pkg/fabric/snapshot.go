package fabric

import "sort"

// Merge combines per-shard results produced by Pool.Shard back into a
// single slice ordered by stable series id, per spec.md §4.8 ("results
// merged by stable series-id order"). Each shard's own internal order
// is whatever fn produced; Merge only orders across shards.
func Merge[T any](shardResults map[uint32]T) []T {
	ids := make([]uint32, 0, len(shardResults))
	for id := range shardResults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, shardResults[id])
	}
	return out
}
