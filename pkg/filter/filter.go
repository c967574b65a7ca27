// Package filter parses the two selector grammars accepted by the
// command surface (basic label=value filters and Prometheus-style
// metric{...} selectors) into index.Matcher groups.
package filter

import (
	"strings"

	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/labelset"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

// ParseGroups parses one or more FILTER arguments, each producing an
// OR'd selector group, auto-detecting basic vs Prometheus-style syntax
// per token.
func ParseGroups(tokens []string) ([][]index.Matcher, error) {
	groups := make([][]index.Matcher, 0, len(tokens))
	for _, tok := range tokens {
		g, err := ParseOne(tok)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g...)
	}
	return groups, nil
}

// ParseOne parses a single FILTER token, returning one or more selector
// groups (more than one only for a Prometheus-style "or" split).
func ParseOne(tok string) ([][]index.Matcher, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, tserr.New(tserr.ParseError, "empty filter")
	}
	if strings.ContainsAny(tok, "{}") || isPrometheusBareMetric(tok) {
		return parsePrometheus(tok)
	}
	m, err := parseBasic(tok)
	if err != nil {
		return nil, err
	}
	return [][]index.Matcher{m}, nil
}

// isPrometheusBareMetric distinguishes a bare "metric" selector (no
// braces, no '=') from a basic "label=value" token.
func isPrometheusBareMetric(tok string) bool {
	return !strings.ContainsAny(tok, "=!") && labelset.IsValidName(tok)
}

// parseBasic handles label=value, label!=value, label=(v1,v2,...),
// label!=(v1,v2,...).
func parseBasic(tok string) ([]index.Matcher, error) {
	neg := false
	sep := "="
	idx := strings.Index(tok, "!=")
	if idx >= 0 {
		neg = true
		sep = "!="
	} else if i := strings.Index(tok, "="); i >= 0 {
		idx = i
	} else {
		return nil, tserr.New(tserr.ParseError, "invalid filter %q: missing = or !=", tok)
	}

	name := strings.TrimSpace(tok[:idx])
	val := strings.TrimSpace(tok[idx+len(sep):])
	if name == "" {
		return nil, tserr.New(tserr.ParseError, "invalid filter %q: empty label name", tok)
	}

	if strings.HasPrefix(val, "(") && strings.HasSuffix(val, ")") {
		inner := val[1 : len(val)-1]
		values := splitTrim(inner, ',')
		if neg {
			// label!=(v1,v2,...) excludes any of the listed values.
			out := make([]index.Matcher, 0, len(values))
			for _, v := range values {
				out = append(out, index.Matcher{Name: name, Op: index.Neq, Value: v})
			}
			return out, nil
		}
		// label=(v1,v2,...) becomes one alternation regex matcher, so a
		// single Matcher captures the whole list.
		return []index.Matcher{{Name: name, Op: index.RegexMatch, Value: strings.Join(escapeAll(values), "|")}}, nil
	}

	if neg {
		return []index.Matcher{{Name: name, Op: index.Neq, Value: val}}, nil
	}
	return []index.Matcher{{Name: name, Op: index.Eq, Value: val}}, nil
}

func escapeAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = regexQuoteMeta(v)
	}
	return out
}

func splitTrim(s string, sep byte) []string {
	parts := strings.Split(s, string(sep))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// parsePrometheus handles "metric{lbl op val, ...}" | "metric" |
// "{lbl op val, ...}", with top-level "or" splitting into groups.
func parsePrometheus(tok string) ([][]index.Matcher, error) {
	lex := newLexer(tok)
	p := &promParser{lex: lex}
	return p.parseSelector()
}

func regexQuoteMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

