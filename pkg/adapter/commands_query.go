package adapter

import (
	"time"

	"github.com/nicktill/tinyseries/pkg/query"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// QueryOptions carries QUERY/QUERY_RANGE's optional clauses.
type QueryOptions struct {
	Step    time.Duration
	Timeout time.Duration
}

// Query evaluates a metricsql expression at a single instant.
func (e *Engine) Query(expr string, at int64, opts QueryOptions) (*query.Result, error) {
	start := time.Now()
	defer func() { e.Metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()
	e.Metrics.QueriesTotal.Inc()

	parsed, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	eo := query.EvalOptions{Step: opts.Step, Deadline: deadlineFrom(opts.Timeout)}
	return e.eval.Instant(parsed, at, eo)
}

// QueryRange evaluates a metricsql expression at every step in [start, end].
func (e *Engine) QueryRange(expr string, start, end int64, opts QueryOptions) (*query.Result, error) {
	t0 := time.Now()
	defer func() { e.Metrics.QueryDuration.Observe(time.Since(t0).Seconds()) }()
	e.Metrics.QueriesTotal.Inc()

	if opts.Step <= 0 {
		return nil, tserr.New(tserr.ArgsError, "QUERY_RANGE requires a positive STEP")
	}
	parsed, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	eo := query.EvalOptions{Start: start, End: end, Step: opts.Step, Deadline: deadlineFrom(opts.Timeout)}
	return e.eval.Range(parsed, eo)
}
