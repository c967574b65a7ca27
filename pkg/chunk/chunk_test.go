package chunk

import "testing"

func TestUncompressedPushRangeTrim(t *testing.T) {
	c := New(Uncompressed, DefaultMaxSize, Rounding{})
	for i := int64(0); i < 20; i++ {
		if res := c.Push(i*1000, float64(i)); res != Added {
			t.Fatalf("push %d: %v", i, res)
		}
	}
	if c.Encoding() != Uncompressed {
		t.Fatalf("Encoding() = %v", c.Encoding())
	}

	got := c.Range(5000, 10000)
	if len(got) != 6 {
		t.Fatalf("Range(5000,10000) returned %d samples, want 6", len(got))
	}

	removed := c.TrimBefore(10000)
	if removed != 10 {
		t.Fatalf("TrimBefore removed %d, want 10", removed)
	}
	if c.Count() != 10 {
		t.Fatalf("Count() = %d, want 10", c.Count())
	}
}

func TestUncompressedSerializeDeserialize(t *testing.T) {
	c := New(Uncompressed, DefaultMaxSize, Rounding{})
	c.Push(1000, 1.5)
	c.Push(2000, -3.25)

	data := c.Serialize()
	back, err := Deserialize(data, DefaultMaxSize)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if back.Encoding() != Uncompressed {
		t.Fatalf("Encoding() = %v, want Uncompressed", back.Encoding())
	}
	got := back.Range(0, 5000)
	if len(got) != 2 || got[0].Val != 1.5 || got[1].Val != -3.25 {
		t.Fatalf("got %+v", got)
	}
}

func TestUncompressedOutOfOrderAndDuplicate(t *testing.T) {
	c := New(Uncompressed, DefaultMaxSize, Rounding{})
	c.Push(1000, 1.0)
	if res := c.Push(1000, 2.0); res != Duplicate {
		t.Fatalf("expected Duplicate, got %v", res)
	}
	if res := c.Push(500, 2.0); res != OutOfOrder {
		t.Fatalf("expected OutOfOrder, got %v", res)
	}
}

func TestDeserializeEmpty(t *testing.T) {
	c, err := Deserialize(nil, DefaultMaxSize)
	if err != nil {
		t.Fatalf("Deserialize(nil): %v", err)
	}
	if c.Count() != 0 {
		t.Fatalf("expected empty chunk, got count %d", c.Count())
	}
}

func TestDeserializeUnknownTag(t *testing.T) {
	_, err := Deserialize([]byte{0xFF, 1, 2, 3}, DefaultMaxSize)
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestPushResultString(t *testing.T) {
	cases := map[PushResult]string{
		Added:      "Added",
		Full:       "Full",
		OutOfOrder: "OutOfOrder",
		Duplicate:  "Duplicate",
	}
	for r, want := range cases {
		if r.String() != want {
			t.Fatalf("%v.String() = %q, want %q", r, r.String(), want)
		}
	}
}
