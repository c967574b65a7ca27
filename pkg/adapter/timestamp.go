// Package adapter wires labelset, chunk, seriesstore, index, filter,
// metricsql, query, fabric, limits, and selfmetrics into one
// transport-independent engine exposing the full command surface
// (CREATE, ADD, RANGE, QUERY, ...). The Engine satisfies
// retention.Registry so a host can hand it to a retention sweeper.
// Each command is a plain Go method returning (result, error);
// cmd/tsdbd maps those onto the wire protocol.
package adapter

import (
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinyseries/pkg/tserr"
)

// ParseTimestamp parses one timestamp literal: an integer ms value,
// "-" (earliest), "+" (latest), "*" (now), an RFC3339 string, or a
// relative "-<duration>" offset from now.
func ParseTimestamp(s string, now int64) (int64, error) {
	switch s {
	case "-":
		return 0, nil
	case "+":
		return maxTimestamp, nil
	case "*":
		return now, nil
	}

	if strings.HasPrefix(s, "-") && len(s) > 1 && !isAllDigits(s[1:]) {
		d, err := ParseDuration(s[1:])
		if err != nil {
			return 0, tserr.Wrap(tserr.ParseError, err, "invalid relative timestamp %q", s)
		}
		return now - d.Milliseconds(), nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}

	return 0, tserr.New(tserr.ParseError, "invalid timestamp literal %q", s)
}

// maxTimestamp stands in for "+" (latest): year 9999 in ms, comfortably
// past any real sample while staying clear of int64 overflow in
// from-to arithmetic callers might do.
const maxTimestamp = 253402300799000

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseDuration parses a "<int>(ms|s|m|h|d|w|y)" duration literal,
// distinct from Go's own duration grammar per spec.md's command
// surface.
func ParseDuration(s string) (time.Duration, error) {
	unitLen := 1
	if strings.HasSuffix(s, "ms") {
		unitLen = 2
	}
	if len(s) <= unitLen {
		return 0, tserr.New(tserr.ParseError, "invalid duration %q", s)
	}
	numPart := s[:len(s)-unitLen]
	unit := s[len(s)-unitLen:]

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, tserr.Wrap(tserr.ParseError, err, "invalid duration %q", s)
	}

	switch unit {
	case "ms":
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case "y":
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	default:
		return 0, tserr.New(tserr.ParseError, "invalid duration unit in %q", s)
	}
}
