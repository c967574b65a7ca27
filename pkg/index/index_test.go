package index

import (
	"testing"

	"github.com/nicktill/tinyseries/pkg/labelset"
)

func labels(t *testing.T, pairs ...string) labelset.LabelSet {
	t.Helper()
	b := labelset.NewBuilder()
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Set(pairs[i], pairs[i+1])
	}
	ls, err := b.Build()
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	return ls
}

func TestInsertAndSelectEquals(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "__name__", "cpu", "host", "a"))
	idx.Insert(2, labels(t, "__name__", "cpu", "host", "b"))
	idx.Insert(3, labels(t, "__name__", "mem", "host", "a"))

	bm, err := idx.Select([]Matcher{{Name: "__name__", Op: Eq, Value: "cpu"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if bm.GetCardinality() != 2 || !bm.Contains(1) || !bm.Contains(2) {
		t.Fatalf("unexpected result: %v", bm.ToArray())
	}
}

func TestSelectAndsMultipleMatchers(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "__name__", "cpu", "host", "a"))
	idx.Insert(2, labels(t, "__name__", "cpu", "host", "b"))

	bm, err := idx.Select([]Matcher{
		{Name: "__name__", Op: Eq, Value: "cpu"},
		{Name: "host", Op: Eq, Value: "a"},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(1) {
		t.Fatalf("unexpected result: %v", bm.ToArray())
	}
}

func TestSelectNeq(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "host", "a"))
	idx.Insert(2, labels(t, "host", "b"))
	idx.Insert(3, labels(t, "host", "a"))

	bm, err := idx.Select([]Matcher{{Name: "host", Op: Neq, Value: "a"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(2) {
		t.Fatalf("unexpected result: %v", bm.ToArray())
	}
}

func TestSelectRegexMatch(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "host", "web-1"))
	idx.Insert(2, labels(t, "host", "web-2"))
	idx.Insert(3, labels(t, "host", "db-1"))

	bm, err := idx.Select([]Matcher{{Name: "host", Op: RegexMatch, Value: "web-.*"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if bm.GetCardinality() != 2 {
		t.Fatalf("expected 2 matches, got %v", bm.ToArray())
	}
}

func TestSelectGroupsOrsAcrossGroups(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "__name__", "cpu"))
	idx.Insert(2, labels(t, "__name__", "mem"))
	idx.Insert(3, labels(t, "__name__", "disk"))

	bm, err := idx.SelectGroups([][]Matcher{
		{{Name: "__name__", Op: Eq, Value: "cpu"}},
		{{Name: "__name__", Op: Eq, Value: "mem"}},
	})
	if err != nil {
		t.Fatalf("SelectGroups: %v", err)
	}
	if bm.GetCardinality() != 2 {
		t.Fatalf("expected 2, got %v", bm.ToArray())
	}
}

func TestRemoveDropsPostings(t *testing.T) {
	idx := New()
	ls := labels(t, "host", "a")
	idx.Insert(1, ls)
	idx.Remove(1, ls)

	bm, _ := idx.Select([]Matcher{{Name: "host", Op: Eq, Value: "a"}})
	if bm.GetCardinality() != 0 {
		t.Fatalf("expected empty after remove, got %v", bm.ToArray())
	}
	if len(idx.LabelNames()) != 0 {
		t.Fatalf("expected no label names left, got %v", idx.LabelNames())
	}
}

func TestLabelNamesAndValues(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "__name__", "cpu", "host", "a"))
	idx.Insert(2, labels(t, "__name__", "cpu", "host", "b"))

	names := idx.LabelNames()
	if len(names) != 2 {
		t.Fatalf("LabelNames() = %v", names)
	}
	values := idx.LabelValues("host", 0)
	if len(values) != 2 || values[0] != "a" || values[1] != "b" {
		t.Fatalf("LabelValues(host) = %v", values)
	}
}

func TestStatsTopN(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "__name__", "cpu"))
	idx.Insert(2, labels(t, "__name__", "cpu"))
	idx.Insert(3, labels(t, "__name__", "mem"))

	st := idx.Stats("", 10)
	if len(st.TopLabels) != 1 {
		t.Fatalf("TopLabels = %v", st.TopLabels)
	}
	if st.TopPairs[0].Name != "__name__=cpu" || st.TopPairs[0].Count != 2 {
		t.Fatalf("TopPairs[0] = %+v", st.TopPairs[0])
	}
}

func TestEmptyValueMatchesAbsentLabel(t *testing.T) {
	idx := New()
	idx.Insert(1, labels(t, "host", "a"))
	idx.Insert(2, labels(t, "__name__", "cpu"))

	bm, err := idx.Select([]Matcher{{Name: "host", Op: Eq, Value: ""}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !bm.Contains(2) || bm.Contains(1) {
		t.Fatalf("expected only series lacking host label, got %v", bm.ToArray())
	}
}
