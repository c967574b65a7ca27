package adapter

import "testing"

func TestParseTimestampIntegerMS(t *testing.T) {
	got, err := ParseTimestamp("1700000000000", 0)
	if err != nil || got != 1700000000000 {
		t.Fatalf("got %d, %v", got, err)
	}
}

func TestParseTimestampSentinels(t *testing.T) {
	if got, _ := ParseTimestamp("-", 999); got != 0 {
		t.Fatalf("expected 0 for -, got %d", got)
	}
	if got, _ := ParseTimestamp("+", 999); got != maxTimestamp {
		t.Fatalf("expected maxTimestamp for +, got %d", got)
	}
	if got, _ := ParseTimestamp("*", 12345); got != 12345 {
		t.Fatalf("expected now for *, got %d", got)
	}
}

func TestParseTimestampRelative(t *testing.T) {
	got, err := ParseTimestamp("-1h", 3_600_000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestParseTimestampRFC3339(t *testing.T) {
	got, err := ParseTimestamp("2023-11-14T22:13:20Z", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1700000000000 {
		t.Fatalf("got %d", got)
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	if _, err := ParseTimestamp("not-a-timestamp", 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]int64{
		"500ms": 500,
		"5s":    5000,
		"2m":    120000,
		"1h":    3600000,
		"1d":    86400000,
		"1w":    604800000,
	}
	for lit, wantMS := range cases {
		d, err := ParseDuration(lit)
		if err != nil {
			t.Fatalf("%s: %v", lit, err)
		}
		if d.Milliseconds() != wantMS {
			t.Fatalf("%s: got %dms, want %dms", lit, d.Milliseconds(), wantMS)
		}
	}
}

func TestParseDurationRejectsUnknownUnit(t *testing.T) {
	if _, err := ParseDuration("5x"); err == nil {
		t.Fatal("expected error")
	}
}
