package adapter

import "testing"

func TestQueryInstantSelectsBareMetric(t *testing.T) {
	e := NewEngine(EngineOptions{})
	mustCreate(t, e, "cpu", map[string]string{"host": "a"})
	if _, err := e.Add("cpu", 1000, 42); err != nil {
		t.Fatal(err)
	}

	res, err := e.Query("cpu", 1000, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Series) != 1 || res.Series[0].Points[0].Val != 42 {
		t.Fatalf("got %+v", res)
	}
}

func TestQueryRangeRequiresStep(t *testing.T) {
	e := NewEngine(EngineOptions{})
	mustCreate(t, e, "cpu", nil)
	if _, err := e.QueryRange("cpu", 0, 1000, QueryOptions{}); err == nil {
		t.Fatal("expected error for missing STEP")
	}
}

func TestQueryRejectsBadExpression(t *testing.T) {
	e := NewEngine(EngineOptions{})
	if _, err := e.Query("(((", 0, QueryOptions{}); err == nil {
		t.Fatal("expected parse error")
	}
}
