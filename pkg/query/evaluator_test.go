package query

import (
	"math"
	"testing"
	"time"
)

func TestInstantSelectsLatestSampleInWindow(t *testing.T) {
	fl := newFakeLookup()
	labels := mustLabels(t, "__name__", "cpu", "host", "a")
	fl.addSeries(t, labels, 1000, 1, 2000, 2, 3000, 3)

	e := New(fl)
	expr := mustParseExpr(t, `cpu{host="a"}`)
	res, err := e.Instant(expr, 3000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 1 || len(res.Series[0].Points) != 1 {
		t.Fatalf("expected one series one point, got %+v", res.Series)
	}
	if got := res.Series[0].Points[0].Val; got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestInstantOutsideLookbackReturnsEmpty(t *testing.T) {
	fl := newFakeLookup()
	labels := mustLabels(t, "__name__", "cpu")
	fl.addSeries(t, labels, 1000, 1)

	e := New(fl)
	expr := mustParseExpr(t, `cpu`)
	res, err := e.Instant(expr, 1000+10*time.Minute.Milliseconds(), EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 0 {
		t.Fatalf("expected no series, got %+v", res.Series)
	}
}

func TestRangeStitchesPerStepResults(t *testing.T) {
	fl := newFakeLookup()
	labels := mustLabels(t, "__name__", "cpu")
	fl.addSeries(t, labels, 0, 1, 1000, 2, 2000, 3, 3000, 4)

	e := New(fl)
	expr := mustParseExpr(t, `cpu`)
	res, err := e.Range(expr, EvalOptions{Start: 0, End: 3000, Step: time.Second, LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(res.Series) != 1 {
		t.Fatalf("expected one series, got %d", len(res.Series))
	}
	if len(res.Series[0].Points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(res.Series[0].Points))
	}
}

func TestRangeRequiresPositiveStep(t *testing.T) {
	fl := newFakeLookup()
	e := New(fl)
	expr := mustParseExpr(t, `cpu`)
	if _, err := e.Range(expr, EvalOptions{Start: 0, End: 1000}); err == nil {
		t.Fatal("expected error for zero step")
	}
}

func TestBinaryOpAddsMatchingSeries(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "a", "host", "x"), 1000, 10)
	fl.addSeries(t, mustLabels(t, "__name__", "b", "host", "x"), 1000, 5)

	e := New(fl)
	expr := mustParseExpr(t, `a + b`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 1 {
		t.Fatalf("expected one matched series, got %d", len(res.Series))
	}
	if got := res.Series[0].Points[0].Val; got != 15 {
		t.Fatalf("expected 15, got %v", got)
	}
}

func TestBinaryOpComparisonFiltersNonMatches(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "a", "host", "x"), 1000, 1)
	fl.addSeries(t, mustLabels(t, "__name__", "a", "host", "y"), 1000, 9)

	e := New(fl)
	expr := mustParseExpr(t, `a > 5`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 1 {
		t.Fatalf("expected one series surviving filter, got %d", len(res.Series))
	}
	if got, _ := res.Series[0].Labels.Get("host"); got != "y" {
		t.Fatalf("expected host=y to survive, got %q", got)
	}
}

func TestBinaryOpBoolModifierReturnsIndicator(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "a"), 1000, 1)

	e := New(fl)
	expr := mustParseExpr(t, `a > bool 5`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 1 || res.Series[0].Points[0].Val != 0 {
		t.Fatalf("expected 0 indicator, got %+v", res.Series)
	}
}

func TestAggregateSumGroupsByWithoutLabels(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "a", "dc", "east"), 1000, 1)
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "b", "dc", "east"), 1000, 2)
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "c", "dc", "west"), 1000, 4)

	e := New(fl)
	expr := mustParseExpr(t, `sum(cpu) by (dc)`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	total := 0.0
	for _, s := range res.Series {
		total += s.Points[0].Val
	}
	if total != 7 {
		t.Fatalf("expected total 7 across dc groups, got %v", total)
	}
	if len(res.Series) != 2 {
		t.Fatalf("expected 2 dc groups, got %d", len(res.Series))
	}
}

func TestAggregateTopKReturnsKHighestSeries(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "a"), 1000, 1)
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "b"), 1000, 9)
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "c"), 1000, 5)

	e := New(fl)
	expr := mustParseExpr(t, `topk(2, cpu)`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(res.Series))
	}
	for _, s := range res.Series {
		if host, _ := s.Labels.Get("host"); host == "a" {
			t.Fatalf("host=a should not survive topk(2,...)")
		}
	}
}

func TestRollupRateOverRangeVector(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "requests"), 0, 0, 60000, 60, 120000, 120)

	e := New(fl)
	expr := mustParseExpr(t, `rate(requests[2m])`)
	res, err := e.Instant(expr, 120000, EvalOptions{})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if len(res.Series) != 1 {
		t.Fatalf("expected one series, got %d", len(res.Series))
	}
	got := res.Series[0].Points[0].Val
	if math.Abs(got-1) > 0.001 {
		t.Fatalf("expected rate ~1/s, got %v", got)
	}
}

func TestRollupIncreaseHandlesCounterReset(t *testing.T) {
	fl := newFakeLookup()
	// counter climbs to 10, resets to 0, climbs to 4
	fl.addSeries(t, mustLabels(t, "__name__", "hits"), 0, 0, 60000, 10, 120000, 0, 180000, 4)

	e := New(fl)
	expr := mustParseExpr(t, `increase(hits[3m])`)
	res, err := e.Instant(expr, 180000, EvalOptions{})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	got := res.Series[0].Points[0].Val
	if math.Abs(got-14) > 0.001 {
		t.Fatalf("expected increase 14 across the reset, got %v", got)
	}
}

func TestTransformAbsAppliesElementwise(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "delta"), 1000, -5)

	e := New(fl)
	expr := mustParseExpr(t, `abs(delta)`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if got := res.Series[0].Points[0].Val; got != 5 {
		t.Fatalf("expected abs 5, got %v", got)
	}
}

func TestLabelReplaceRewritesLabel(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "cpu", "host", "web-01"), 1000, 1)

	e := New(fl)
	expr := mustParseExpr(t, `label_replace(cpu, "node", "$1", "host", "web-(.*)")`)
	res, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: 5 * time.Minute})
	if err != nil {
		t.Fatalf("instant: %v", err)
	}
	if got, ok := res.Series[0].Labels.Get("node"); !ok || got != "01" {
		t.Fatalf("expected node=01, got %q ok=%v", got, ok)
	}
}

func TestDeadlineExceededAbortsQuery(t *testing.T) {
	fl := newFakeLookup()
	fl.addSeries(t, mustLabels(t, "__name__", "cpu"), 1000, 1)

	e := New(fl)
	expr := mustParseExpr(t, `cpu`)
	past := time.Now().Add(-time.Second)
	if _, err := e.Instant(expr, 1000, EvalOptions{LookbackDefault: time.Minute, Deadline: past}); err == nil {
		t.Fatal("expected deadline error")
	}
}
