package filter

import (
	"testing"

	"github.com/nicktill/tinyseries/pkg/index"
)

func TestParseBasicEquals(t *testing.T) {
	groups, err := ParseOne("host=web-1")
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if len(groups) != 1 || len(groups[0]) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	m := groups[0][0]
	if m.Name != "host" || m.Op != index.Eq || m.Value != "web-1" {
		t.Fatalf("matcher = %+v", m)
	}
}

func TestParseBasicNeq(t *testing.T) {
	groups, err := ParseOne("host!=web-1")
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	m := groups[0][0]
	if m.Op != index.Neq || m.Name != "host" || m.Value != "web-1" {
		t.Fatalf("matcher = %+v", m)
	}
}

func TestParseBasicListForm(t *testing.T) {
	groups, err := ParseOne("host=(a,b,c)")
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	m := groups[0][0]
	if m.Op != index.RegexMatch || m.Value != "a|b|c" {
		t.Fatalf("matcher = %+v", m)
	}
}

func TestParseBasicNegatedListForm(t *testing.T) {
	groups, err := ParseOne("host!=(a,b)")
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if len(groups[0]) != 2 {
		t.Fatalf("expected 2 matchers, got %+v", groups[0])
	}
	for _, m := range groups[0] {
		if m.Op != index.Neq {
			t.Fatalf("expected Neq, got %+v", m)
		}
	}
}

func TestParseBasicMissingOperatorFails(t *testing.T) {
	if _, err := ParseOne("1nvalid"); err == nil {
		t.Fatalf("expected error for token that is neither a valid name nor label=value")
	}
}

func TestParsePrometheusBareMetric(t *testing.T) {
	groups, err := ParseOne("cpu_usage")
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if len(groups) != 1 || len(groups[0]) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	m := groups[0][0]
	if m.Name != "__name__" || m.Op != index.Eq || m.Value != "cpu_usage" {
		t.Fatalf("matcher = %+v", m)
	}
}

func TestParsePrometheusSelector(t *testing.T) {
	groups, err := ParseOne(`cpu{host="web-1",region!="us"}`)
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if len(groups) != 1 || len(groups[0]) != 3 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0][0].Name != "__name__" || groups[0][0].Value != "cpu" {
		t.Fatalf("expected metric name matcher first, got %+v", groups[0][0])
	}
	if groups[0][1].Name != "host" || groups[0][1].Op != index.Eq || groups[0][1].Value != "web-1" {
		t.Fatalf("matcher[1] = %+v", groups[0][1])
	}
	if groups[0][2].Name != "region" || groups[0][2].Op != index.Neq || groups[0][2].Value != "us" {
		t.Fatalf("matcher[2] = %+v", groups[0][2])
	}
}

func TestParsePrometheusRegexOperators(t *testing.T) {
	groups, err := ParseOne(`{host=~"web-.*",host!~"web-9"}`)
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if len(groups[0]) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0][0].Op != index.RegexMatch {
		t.Fatalf("expected RegexMatch, got %+v", groups[0][0])
	}
	if groups[0][1].Op != index.RegexNotMatch {
		t.Fatalf("expected RegexNotMatch, got %+v", groups[0][1])
	}
}

func TestParsePrometheusOrSplitsGroups(t *testing.T) {
	groups, err := ParseOne(`{host="a" or host="b"}`)
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 OR'd groups, got %+v", groups)
	}
	if groups[0][0].Value != "a" || groups[1][0].Value != "b" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestParsePrometheusUnquotedValue(t *testing.T) {
	groups, err := ParseOne(`{host=web-1}`)
	if err != nil {
		t.Fatalf("ParseOne: %v", err)
	}
	if groups[0][0].Value != "web-1" {
		t.Fatalf("matcher = %+v", groups[0][0])
	}
}

func TestParsePrometheusUnterminatedSelectorFails(t *testing.T) {
	if _, err := ParseOne(`cpu{host="a"`); err == nil {
		t.Fatalf("expected error for unterminated selector")
	}
}

func TestParseGroupsCombinesMultipleTokens(t *testing.T) {
	groups, err := ParseGroups([]string{"host=a", "cpu{region=us}"})
	if err != nil {
		t.Fatalf("ParseGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %+v", groups)
	}
}

func TestParseOneRejectsEmpty(t *testing.T) {
	if _, err := ParseOne("   "); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
