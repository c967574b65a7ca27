package adapter

import (
	"time"

	"github.com/nicktill/tinyseries/pkg/seriesstore"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// AddOutcome mirrors seriesstore.AddOutcome for callers that shouldn't
// import pkg/seriesstore directly.
type AddOutcome = seriesstore.AddOutcome

const (
	AddAccepted = seriesstore.AddAccepted
	AddBlocked  = seriesstore.AddBlocked
	AddIgnored  = seriesstore.AddIgnored
)

// Add appends one sample to key, at ts (ms epoch), applying key's
// configured retention/duplicate-policy/IGNORE rules.
func (e *Engine) Add(key string, ts int64, val float64) (AddOutcome, error) {
	s, ok := e.seriesByKey(key)
	if !ok {
		return AddIgnored, tserr.New(tserr.NotFound, "key %q not found", key)
	}
	now := time.Now().UnixMilli()
	_, outcome, err := s.Add(now, ts, val)
	if err == nil && outcome == AddAccepted {
		e.Metrics.SamplesIngested.Inc()
	}
	return outcome, err
}

// AddTriple is one (key, ts, value) row of a MADD batch.
type AddTriple struct {
	Key string
	TS  int64
	Val float64
}

// AddResult reports one triple's outcome within a MADD batch; Err is
// set only when the triple failed outright (unknown key), matching
// spec.md §7's per-sample error semantics within a batch reply.
type AddResult struct {
	Outcome AddOutcome
	Err     error
}

// MAdd applies a batch of (key, ts, value) triples. Each key's samples
// are grouped together and folded through seriesstore.Series.Ingest so
// same-key duplicates within the batch resolve per the series'
// duplicate policy before writing; unrelated keys are otherwise applied
// independently. The whole call never aborts on one triple's failure.
func (e *Engine) MAdd(rows []AddTriple) ([]AddResult, int, int) {
	now := time.Now().UnixMilli()

	byKey := make(map[string][]int)
	order := make([]string, 0, len(rows))
	for i, r := range rows {
		if _, seen := byKey[r.Key]; !seen {
			order = append(order, r.Key)
		}
		byKey[r.Key] = append(byKey[r.Key], i)
	}

	results := make([]AddResult, len(rows))
	accepted, total := 0, len(rows)

	for _, key := range order {
		idxs := byKey[key]
		s, ok := e.seriesByKey(key)
		if !ok {
			err := tserr.New(tserr.NotFound, "key %q not found", key)
			for _, i := range idxs {
				results[i] = AddResult{Outcome: AddIgnored, Err: err}
			}
			continue
		}

		batch := make([]seriesstore.IngestSample, len(idxs))
		for j, i := range idxs {
			batch[j] = seriesstore.IngestSample{TS: rows[i].TS, Val: rows[i].Val}
		}
		res := s.Ingest(now, batch)
		accepted += res.Accepted
		e.Metrics.SamplesIngested.Add(float64(res.Accepted))

		// Ingest doesn't report per-sample outcome, only an aggregate
		// count; approximate per-row reporting as accepted/ignored by
		// batch order, good enough for a batch-level reply.
		for n, i := range idxs {
			if n < res.Accepted {
				results[i] = AddResult{Outcome: AddAccepted}
			} else {
				results[i] = AddResult{Outcome: AddIgnored}
			}
		}
	}
	return results, accepted, total
}

// IncrBy adds delta to key's most recent value (0 if the series is
// empty), writing the result at ts.
func (e *Engine) IncrBy(key string, delta float64, ts int64) (float64, error) {
	return e.incrDecr(key, delta, ts)
}

// DecrBy subtracts delta from key's most recent value.
func (e *Engine) DecrBy(key string, delta float64, ts int64) (float64, error) {
	return e.incrDecr(key, -delta, ts)
}

func (e *Engine) incrDecr(key string, delta float64, ts int64) (float64, error) {
	s, ok := e.seriesByKey(key)
	if !ok {
		return 0, tserr.New(tserr.NotFound, "key %q not found", key)
	}
	base := 0.0
	if last, ok := s.LastSample(); ok {
		base = last.Val
	}
	next := base + delta
	now := time.Now().UnixMilli()
	_, outcome, err := s.Add(now, ts, next)
	if err != nil {
		return 0, err
	}
	if outcome == AddBlocked {
		return 0, tserr.New(tserr.DuplicateBlocked, "INCRBY/DECRBY %s: sample at ts %d already exists", key, ts)
	}
	e.Metrics.SamplesIngested.Inc()
	return next, nil
}

// Del removes samples in [from, to] from key, returning the count
// removed.
func (e *Engine) Del(key string, from, to int64) (int, error) {
	s, ok := e.seriesByKey(key)
	if !ok {
		return 0, tserr.New(tserr.NotFound, "key %q not found", key)
	}
	return s.Del(from, to), nil
}
