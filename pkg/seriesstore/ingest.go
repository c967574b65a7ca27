package seriesstore

import (
	"sort"

	"github.com/nicktill/tinyseries/pkg/chunk"
)

// IngestSample is one input row of a batch ingest.
type IngestSample struct {
	TS  int64
	Val float64
}

// IngestResult reports how many of a batch's samples were accepted.
type IngestResult struct {
	Accepted int
	Total    int
}

// Ingest sorts a batch by timestamp, drops samples older than the
// retention cutoff, folds same-timestamp samples within the batch under
// the series' duplicate policy, then applies each in timestamp order.
func (s *Series) Ingest(now int64, batch []IngestSample) IngestResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Config()
	s.trimRetentionLocked(now, cfg)

	sorted := append([]IngestSample(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })

	if cfg.RetentionMS > 0 {
		cutoff := now - cfg.RetentionMS
		filtered := sorted[:0]
		for _, smp := range sorted {
			if smp.TS >= cutoff {
				filtered = append(filtered, smp)
			}
		}
		sorted = filtered
	}

	folded := foldBatch(sorted, cfg.DuplicatePolicy)

	result := IngestResult{Total: len(batch)}
	for _, smp := range folded {
		if _, outcome, err := s.addWithConfig(now, smp.TS, smp.Val, cfg); err == nil && outcome == AddAccepted {
			result.Accepted++
		}
	}
	return result
}

// foldBatch collapses same-timestamp samples within a single batch
// according to policy, preserving ascending timestamp order.
func foldBatch(sorted []IngestSample, policy chunk.DuplicatePolicy) []IngestSample {
	if len(sorted) == 0 {
		return sorted
	}
	out := make([]IngestSample, 0, len(sorted))
	out = append(out, sorted[0])
	for _, smp := range sorted[1:] {
		last := &out[len(out)-1]
		if smp.TS != last.TS {
			out = append(out, smp)
			continue
		}
		if folded, changed := foldValue(last.Val, smp.Val, policy); changed {
			last.Val = folded
		}
	}
	return out
}

// foldValue applies the series' duplicate policy to a same-timestamp
// collision, mirroring the fold rules chunk.Upsert applies once a sample
// lands in its owning chunk.
func foldValue(existing, incoming float64, policy chunk.DuplicatePolicy) (float64, bool) {
	switch policy {
	case chunk.PolicyFirst, chunk.PolicyBlock:
		return existing, false
	case chunk.PolicyLast:
		return incoming, true
	case chunk.PolicyMin:
		if incoming < existing {
			return incoming, true
		}
		return existing, false
	case chunk.PolicyMax:
		if incoming > existing {
			return incoming, true
		}
		return existing, false
	case chunk.PolicySum:
		return existing + incoming, true
	default:
		return existing, false
	}
}
