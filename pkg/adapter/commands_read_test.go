package adapter

import (
	"testing"

	"github.com/nicktill/tinyseries/pkg/index"
)

func TestRangeAppliesFilterByValue(t *testing.T) {
	e := NewEngine(EngineOptions{})
	mustCreate(t, e, "cpu", nil)
	for i, v := range []float64{1, 5, 9, 2} {
		if _, err := e.Add("cpu", int64((i+1)*1000), v); err != nil {
			t.Fatal(err)
		}
	}
	min := 2.0
	max := 6.0
	out, err := e.Range("cpu", 0, 10000, RangeOptions{FilterValMin: &min, FilterValMax: &max})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %+v", out)
	}
}

func TestRangeAppliesCount(t *testing.T) {
	e := NewEngine(EngineOptions{})
	mustCreate(t, e, "cpu", nil)
	for i := 0; i < 5; i++ {
		if _, err := e.Add("cpu", int64((i+1)*1000), float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	out, err := e.Range("cpu", 0, 10000, RangeOptions{Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d", len(out))
	}
}

func TestMGetReturnsLatestPerMatchedSeries(t *testing.T) {
	e := NewEngine(EngineOptions{})
	mustCreate(t, e, "cpu", map[string]string{"host": "a"})
	mustCreate(t, e, "mem", map[string]string{"host": "a"})
	if _, err := e.Add("cpu", 1000, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("mem", 2000, 2); err != nil {
		t.Fatal(err)
	}

	groups := [][]index.Matcher{{{Name: "host", Op: index.Eq, Value: "a"}}}
	out, err := e.MGet(groups, MGetOptions{WithLabels: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %+v", out)
	}
	if out[0].Key != "cpu" || out[0].Labels["host"] != "a" {
		t.Fatalf("got %+v", out[0])
	}
}

func TestMRangeGroupsAndReducesByLabel(t *testing.T) {
	e := NewEngine(EngineOptions{})
	mustCreate(t, e, "cpu_a", map[string]string{"dc": "us"})
	mustCreate(t, e, "cpu_b", map[string]string{"dc": "us"})
	if _, err := e.Add("cpu_a", 1000, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Add("cpu_b", 1000, 20); err != nil {
		t.Fatal(err)
	}

	groups := [][]index.Matcher{{{Name: "dc", Op: index.Eq, Value: "us"}}}
	out, err := e.MRange(0, 10000, groups, MRangeOptions{GroupBy: "dc", Reduce: "sum"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || len(out[0].Points) != 1 || out[0].Points[0].Val != 30 {
		t.Fatalf("got %+v", out)
	}
}
