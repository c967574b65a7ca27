package metricsql

import (
	"strings"
	"unicode"
)

// Lexer tokenizes a query string one byte at a time.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

// NewLexer creates a lexer positioned at the start of input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token, advancing the lexer.
func (l *Lexer) NextToken() Token {
	var tok Token

	l.skipWhitespace()
	tok.Pos = l.pos

	switch l.ch {
	case '(':
		tok = Token{Type: TokenLeftParen, Literal: string(l.ch)}
	case ')':
		tok = Token{Type: TokenRightParen, Literal: string(l.ch)}
	case '{':
		tok = Token{Type: TokenLeftBrace, Literal: string(l.ch)}
	case '}':
		tok = Token{Type: TokenRightBrace, Literal: string(l.ch)}
	case '[':
		tok = Token{Type: TokenLeftBracket, Literal: string(l.ch)}
	case ']':
		tok = Token{Type: TokenRightBracket, Literal: string(l.ch)}
	case ',':
		tok = Token{Type: TokenComma, Literal: string(l.ch)}
	case ':':
		tok = Token{Type: TokenColon, Literal: string(l.ch)}
	case '+':
		tok = Token{Type: TokenPlus, Literal: string(l.ch)}
	case '-':
		tok = Token{Type: TokenMinus, Literal: string(l.ch)}
	case '*':
		tok = Token{Type: TokenMultiply, Literal: string(l.ch)}
	case '/':
		tok = Token{Type: TokenDivide, Literal: string(l.ch)}
	case '^':
		tok = Token{Type: TokenPower, Literal: string(l.ch)}
	case '%':
		tok = Token{Type: TokenMod, Literal: string(l.ch)}
	case '@':
		tok = Token{Type: TokenAt, Literal: string(l.ch)}
	case '=':
		if l.peekChar() == '~' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TokenMatch, Literal: string(ch) + string(l.ch)}
		} else if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TokenEqualEqual, Literal: string(ch) + string(l.ch)}
		} else {
			tok = Token{Type: TokenEqual, Literal: string(l.ch)}
		}
	case '!':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TokenNotEqual, Literal: string(ch) + string(l.ch)}
		} else if l.peekChar() == '~' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TokenNotMatch, Literal: string(ch) + string(l.ch)}
		} else {
			tok = Token{Type: TokenIllegal, Literal: string(l.ch)}
		}
	case '<':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TokenLessEqual, Literal: string(ch) + string(l.ch)}
		} else {
			tok = Token{Type: TokenLess, Literal: string(l.ch)}
		}
	case '>':
		if l.peekChar() == '=' {
			ch := l.ch
			l.readChar()
			tok = Token{Type: TokenGreaterEqual, Literal: string(ch) + string(l.ch)}
		} else {
			tok = Token{Type: TokenGreater, Literal: string(l.ch)}
		}
	case '"', '\'', '`':
		tok.Type = TokenString
		tok.Literal = l.readString(l.ch)
	case 0:
		tok = Token{Type: TokenEOF, Literal: ""}
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = lookupKeyword(tok.Literal)
			return tok
		} else if isDigit(l.ch) {
			tok.Type = TokenNumber
			tok.Literal = l.readNumber()
			if isDurationUnitStart(l.ch) {
				if unit := l.tryReadDurationUnit(); unit != "" {
					tok.Literal += unit
					tok.Type = TokenDuration
				}
			}
			return tok
		}
		tok = Token{Type: TokenIllegal, Literal: string(l.ch)}
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
	if l.ch == '#' {
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
		l.skipWhitespace()
	}
}

func (l *Lexer) readIdentifier() string {
	pos := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == ':' {
		l.readChar()
	}
	return l.input[pos:l.pos]
}

func (l *Lexer) readNumber() string {
	pos := l.pos

	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		save, saveRead, saveCh := l.pos, l.readPos, l.ch
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if isDigit(l.ch) {
			for isDigit(l.ch) || l.ch == '_' {
				l.readChar()
			}
		} else {
			l.pos, l.readPos, l.ch = save, saveRead, saveCh
		}
	}
	return l.input[pos:l.pos]
}

var durationUnits = map[string]bool{
	"ms": true, "s": true, "m": true, "h": true,
	"d": true, "w": true, "y": true,
}

func isDurationUnitStart(ch byte) bool {
	return isLetter(ch)
}

// tryReadDurationUnit consumes a single duration unit suffix
// (ms,s,m,h,d,w,y); "1h30m" lexes as two separate TokenDuration tokens,
// which the parser does not join. Returns "" without consuming if the
// following letters aren't a known unit.
func (l *Lexer) tryReadDurationUnit() string {
	save, saveRead, saveCh := l.pos, l.readPos, l.ch
	pos := l.pos
	for isLetter(l.ch) {
		l.readChar()
	}
	unit := l.input[pos:l.pos]
	if durationUnits[unit] {
		return unit
	}
	l.pos, l.readPos, l.ch = save, saveRead, saveCh
	return ""
}

func (l *Lexer) readString(quote byte) string {
	pos := l.pos + 1
	for {
		l.readChar()
		if l.ch == quote || l.ch == 0 {
			break
		}
		if l.ch == '\\' {
			l.readChar()
		}
	}
	return l.input[pos:l.pos]
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func lookupKeyword(ident string) TokenType {
	keywords := map[string]TokenType{
		"by":          TokenBy,
		"without":     TokenWithout,
		"on":          TokenOn,
		"ignoring":    TokenIgnoring,
		"group_left":  TokenGroupLeft,
		"group_right": TokenGroupRight,
		"bool":        TokenBool,
		"offset":      TokenOffset,
		"and":         TokenAnd,
		"or":          TokenOr,
		"unless":      TokenUnless,

		"sum":          TokenSum,
		"avg":          TokenAvg,
		"max":          TokenMax,
		"min":          TokenMin,
		"group":        TokenGroup,
		"count":        TokenCount,
		"stddev":       TokenStddev,
		"stdvar":       TokenStdvar,
		"topk":         TokenTopK,
		"bottomk":      TokenBottomK,
		"quantile":     TokenQuantile,
		"count_values": TokenCountValues,
	}
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return TokenIdentifier
}
