package index

import "sort"

// NameCount pairs a name (label, metric, or "label=value" pair) with its
// posting cardinality, for the STATS command's top-N reporting.
type NameCount struct {
	Name  string
	Count uint64
}

// Stats reports the top-N labels and (label,value) pairs by series
// count, plus a rough byte estimate of the postings structure.
type Stats struct {
	TopLabels []NameCount
	TopPairs  []NameCount
	Bytes     uint64
}

// Stats computes STATS output. If label is non-empty, TopPairs is
// restricted to that label's values; otherwise it spans all labels.
func (idx *Index) Stats(label string, limit int) Stats {
	var labelCounts []NameCount
	var pairCounts []NameCount
	var bytes uint64

	for _, sh := range idx.shards {
		sh.mu.RLock()
		for name, values := range sh.values {
			if label == "" || name == label {
				var total uint64
				for v, bm := range values {
					c := bm.GetCardinality()
					total += c
					pairCounts = append(pairCounts, NameCount{Name: name + "=" + v, Count: c})
					bytes += bm.GetSerializedSizeInBytes()
				}
				labelCounts = append(labelCounts, NameCount{Name: name, Count: total})
			} else {
				for _, bm := range values {
					bytes += bm.GetSerializedSizeInBytes()
				}
			}
		}
		sh.mu.RUnlock()
	}

	sortDesc(labelCounts)
	sortDesc(pairCounts)

	if limit > 0 {
		if len(labelCounts) > limit {
			labelCounts = labelCounts[:limit]
		}
		if len(pairCounts) > limit {
			pairCounts = pairCounts[:limit]
		}
	}

	return Stats{TopLabels: labelCounts, TopPairs: pairCounts, Bytes: bytes}
}

func sortDesc(items []NameCount) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Name < items[j].Name
	})
}
