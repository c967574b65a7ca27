package chunk

import (
	"math"
	"math/rand"
	"testing"
)

func TestGorillaRoundTripExact(t *testing.T) {
	c := New(Compressed, DefaultMaxSize, Rounding{})
	ts := int64(1_700_000_000_000)
	want := make([]Sample, 0, 500)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		ts += int64(1000 + r.Intn(5000))
		v := r.Float64() * 1000
		res := c.Push(ts, v)
		if res == Full {
			break
		}
		want = append(want, Sample{TS: ts, Val: v})
	}

	got := c.Range(math.MinInt64, math.MaxInt64)
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].TS != want[i].TS || got[i].Val != want[i].Val {
			t.Fatalf("sample %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGorillaSerializeDeserializeRoundTrip(t *testing.T) {
	c := New(Compressed, DefaultMaxSize, Rounding{})
	samples := []Sample{
		{TS: 1000, Val: 1.5},
		{TS: 2000, Val: 1.5},
		{TS: 3500, Val: -2.25},
		{TS: 10000, Val: 100.0},
		{TS: 10001, Val: math.Inf(1)},
		{TS: 10002, Val: math.NaN()},
	}
	for _, s := range samples {
		if res := c.Push(s.TS, s.Val); res != Added {
			t.Fatalf("push %+v: %v", s, res)
		}
	}

	data := c.Serialize()
	back, err := Deserialize(data, DefaultMaxSize)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if back.Count() != c.Count() || back.FirstTS() != c.FirstTS() || back.LastTS() != c.LastTS() {
		t.Fatalf("header mismatch after round trip")
	}

	got := back.Range(0, 100000)
	if len(got) != len(samples) {
		t.Fatalf("got %d samples after deserialize, want %d", len(got), len(samples))
	}
	for i, s := range samples {
		if got[i].TS != s.TS {
			t.Fatalf("sample %d ts mismatch: got %d want %d", i, got[i].TS, s.TS)
		}
		if math.IsNaN(s.Val) {
			if !math.IsNaN(got[i].Val) {
				t.Fatalf("sample %d: expected NaN, got %v", i, got[i].Val)
			}
			continue
		}
		if got[i].Val != s.Val {
			t.Fatalf("sample %d val mismatch: got %v want %v", i, got[i].Val, s.Val)
		}
	}
}

func TestGorillaFullSignalsAndStopsMutating(t *testing.T) {
	c := New(Compressed, 32, Rounding{})
	ts := int64(0)
	pushed := 0
	for i := 0; i < 1000; i++ {
		ts += 1000
		res := c.Push(ts, float64(i))
		if res == Full {
			break
		}
		pushed++
	}
	if pushed == 0 {
		t.Fatal("expected at least one sample before Full")
	}
	if c.Count() != pushed {
		t.Fatalf("Count() = %d, want %d", c.Count(), pushed)
	}
	if c.Size() > c.MaxSize() {
		t.Fatalf("Size() = %d exceeds MaxSize() = %d", c.Size(), c.MaxSize())
	}
}

func TestGorillaOutOfOrderAndDuplicate(t *testing.T) {
	c := New(Compressed, DefaultMaxSize, Rounding{})
	c.Push(1000, 1.0)
	c.Push(2000, 2.0)

	if res := c.Push(2000, 3.0); res != Duplicate {
		t.Fatalf("expected Duplicate, got %v", res)
	}
	if res := c.Push(1500, 3.0); res != OutOfOrder {
		t.Fatalf("expected OutOfOrder, got %v", res)
	}
	if c.Count() != 2 {
		t.Fatalf("rejected pushes should not mutate count, got %d", c.Count())
	}
}

func TestGorillaTrimBefore(t *testing.T) {
	c := New(Compressed, DefaultMaxSize, Rounding{})
	for i := int64(0); i < 10; i++ {
		c.Push(i*1000, float64(i))
	}
	removed := c.TrimBefore(5000)
	if removed != 5 {
		t.Fatalf("TrimBefore removed %d, want 5", removed)
	}
	if c.FirstTS() != 5000 {
		t.Fatalf("FirstTS() = %d, want 5000", c.FirstTS())
	}
	if c.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", c.Count())
	}
}

func TestGorillaUpsertSumPolicy(t *testing.T) {
	c := New(Compressed, DefaultMaxSize, Rounding{})
	c.Push(1000, 10.0)
	res := c.Upsert(1000, 5.0, PolicySum)
	if res != UpsertUpdated {
		t.Fatalf("Upsert = %v, want UpsertUpdated", res)
	}
	got := c.Range(1000, 1000)
	if len(got) != 1 || got[0].Val != 15.0 {
		t.Fatalf("got %+v, want sum 15.0", got)
	}
}

func TestGorillaSplit(t *testing.T) {
	c := New(Compressed, DefaultMaxSize, Rounding{})
	c.Push(1000, 1.0)
	left, right := c.Split()
	if left.Count() != 1 {
		t.Fatalf("left.Count() = %d, want 1", left.Count())
	}
	if right.Count() != 0 {
		t.Fatalf("right.Count() = %d, want 0", right.Count())
	}
	if res := right.Push(2000, 2.0); res != Added {
		t.Fatalf("right chunk should accept new pushes, got %v", res)
	}
}

func TestRoundingSignificantDigits(t *testing.T) {
	r := Rounding{SignificantDigits: 2}
	got := r.apply(123.456)
	if got != 120 {
		t.Fatalf("roundSignificant(123.456, 2) = %v, want 120", got)
	}
}

func TestRoundingDecimalDigits(t *testing.T) {
	r := Rounding{DecimalDigits: 2}
	got := r.apply(1.2349)
	if got != 1.23 {
		t.Fatalf("roundDecimal(1.2349, 2) = %v, want 1.23", got)
	}
}
