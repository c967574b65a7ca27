package filter

import (
	"strings"

	"github.com/nicktill/tinyseries/pkg/index"
	"github.com/nicktill/tinyseries/pkg/tserr"
)

func errf(format string, args ...any) error {
	return tserr.New(tserr.ParseError, format, args...)
}

// lexer is a byte-at-a-time scanner in the same style used throughout
// this codebase's other hand-rolled parsers: readChar/peekChar with no
// backtracking, tokens produced on demand.
type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer { return &lexer{input: input} }

func (l *lexer) peekChar() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) readChar() byte {
	c := l.peekChar()
	if c != 0 {
		l.pos++
	}
	return c
}

func (l *lexer) skipSpace() {
	for l.peekChar() == ' ' || l.peekChar() == '\t' {
		l.pos++
	}
}

type promParser struct {
	lex *lexer
}

// parseSelector parses "metric{lbl op val,...}" | "metric" |
// "{lbl op val,...}", splitting top-level "or" inside braces into
// separate OR'd groups.
func (p *promParser) parseSelector() ([][]index.Matcher, error) {
	p.lex.skipSpace()
	var metric string
	if p.lex.peekChar() != '{' {
		metric = p.readIdent()
	}

	var groups [][]index.Matcher
	p.lex.skipSpace()
	if p.lex.peekChar() == '{' {
		p.lex.readChar()
		gs, err := p.parseMatcherGroups()
		if err != nil {
			return nil, err
		}
		groups = gs
	} else {
		groups = [][]index.Matcher{{}}
	}

	if metric != "" {
		for i := range groups {
			groups[i] = append([]index.Matcher{{Name: "__name__", Op: index.Eq, Value: metric}}, groups[i]...)
		}
	}
	if metric == "" && len(groups) == 1 && len(groups[0]) == 0 {
		return nil, errf("empty selector")
	}
	return groups, nil
}

func (p *promParser) readIdent() string {
	start := p.lex.pos
	for isIdentByte(p.lex.peekChar()) {
		p.lex.readChar()
	}
	return p.lex.input[start:p.lex.pos]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// parseMatcherGroups parses the inside of "{ ... }" up to the closing
// brace, splitting on top-level "or" into separate matcher groups.
func (p *promParser) parseMatcherGroups() ([][]index.Matcher, error) {
	var groups [][]index.Matcher
	var current []index.Matcher

	for {
		p.lex.skipSpace()
		if p.lex.peekChar() == '}' {
			p.lex.readChar()
			groups = append(groups, current)
			return groups, nil
		}
		if p.lex.peekChar() == 0 {
			return nil, errf("unterminated selector: missing }")
		}

		if p.tryConsumeOr() {
			groups = append(groups, current)
			current = nil
			continue
		}

		m, err := p.parseMatcher()
		if err != nil {
			return nil, err
		}
		current = append(current, m)

		p.lex.skipSpace()
		if p.lex.peekChar() == ',' {
			p.lex.readChar()
		}
	}
}

func (p *promParser) tryConsumeOr() bool {
	save := p.lex.pos
	p.lex.skipSpace()
	if strings.HasPrefix(p.lex.input[p.lex.pos:], "or") {
		after := p.lex.pos + 2
		if after >= len(p.lex.input) || !isIdentByte(p.lex.input[after]) {
			p.lex.pos = after
			return true
		}
	}
	p.lex.pos = save
	return false
}

func (p *promParser) parseMatcher() (index.Matcher, error) {
	p.lex.skipSpace()
	name := p.readIdent()
	if name == "" {
		return index.Matcher{}, errf("expected label name in selector")
	}
	p.lex.skipSpace()

	op, err := p.readOp()
	if err != nil {
		return index.Matcher{}, err
	}
	p.lex.skipSpace()

	val, err := p.readValue()
	if err != nil {
		return index.Matcher{}, err
	}
	return index.Matcher{Name: name, Op: op, Value: val}, nil
}

func (p *promParser) readOp() (index.MatchOp, error) {
	switch p.lex.peekChar() {
	case '=':
		p.lex.readChar()
		if p.lex.peekChar() == '~' {
			p.lex.readChar()
			return index.RegexMatch, nil
		}
		return index.Eq, nil
	case '!':
		p.lex.readChar()
		if p.lex.peekChar() == '=' {
			p.lex.readChar()
			return index.Neq, nil
		}
		if p.lex.peekChar() == '~' {
			p.lex.readChar()
			return index.RegexNotMatch, nil
		}
		return 0, errf("invalid operator: expected != or !~")
	default:
		return 0, errf("expected operator (=, !=, =~, !~)")
	}
}

func (p *promParser) readValue() (string, error) {
	c := p.lex.peekChar()
	if c == '"' || c == '\'' || c == '`' {
		return p.readQuoted(c)
	}
	start := p.lex.pos
	for {
		c := p.lex.peekChar()
		if c == 0 || c == ',' || c == '}' {
			break
		}
		p.lex.readChar()
	}
	return strings.TrimSpace(p.lex.input[start:p.lex.pos]), nil
}

func (p *promParser) readQuoted(quote byte) (string, error) {
	p.lex.readChar() // opening quote
	var b strings.Builder
	for {
		c := p.lex.readChar()
		if c == 0 {
			return "", errf("unterminated quoted value")
		}
		if c == '\\' {
			esc := p.lex.readChar()
			b.WriteByte(unescapeByte(esc))
			continue
		}
		if c == quote {
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

func unescapeByte(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}
