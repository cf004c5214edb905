package internal

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// A token is a single lexical element.
type token struct {
	Kind tokenKind
	// Value is the source text of the token, except for strings, where it
	// is the decoded contents.
	Value string
	Err   error

	// Pos and End are offsets in the source string, including the base of
	// the span being lexed.
	Pos, End int
}

type tokenKind int

const (
	eofToken tokenKind = iota
	badToken

	identToken  // identifier or keyword
	numberToken // 12, 0x1f, 1.5e3
	stringToken // "string" or 'string'
	punctToken  // operator or punctuation
)

// punctuators lists operators longest first so the first prefix match wins.
var punctuators = [...]string{
	">>>=",
	"===", "!==", ">>>", "<<=", ">>=",
	"==", "!=", "<=", ">=", "&&", "||", "++", "--",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<", ">>",
	"{", "}", "(", ")", "[", "]", ";", ",", ".", "<", ">",
	"+", "-", "*", "/", "%", "&", "|", "^", "!", "~", "?", ":", "=",
}

// lexer produces tokens on demand from a span of source text. Because
// functions are re-parsed from their text on every call, the lexer works over
// a plain byte slice and can rewind to any saved position.
type lexer struct {
	src  []byte
	base int
	pos  int
	tok  token
}

// lexState is a rewind point.
type lexState struct {
	pos int
	tok token
}

// newLexer starts lexing src, whose first byte is at offset base in the
// source string. The first token is ready in tok.
func newLexer(src []byte, base int) *lexer {
	l := &lexer{src: src, base: base}
	l.next()
	return l
}

// next advances to the next token.
func (l *lexer) next() {
	l.tok = l.scan()
}

func (l *lexer) save() lexState {
	return lexState{pos: l.pos, tok: l.tok}
}

func (l *lexer) restore(s lexState) {
	l.pos, l.tok = s.pos, s.tok
}

// is reports whether the current token is the punctuator p.
func (l *lexer) is(p string) bool {
	return l.tok.Kind == punctToken && l.tok.Value == p
}

// isWord reports whether the current token is the identifier or keyword w.
func (l *lexer) isWord(w string) bool {
	return l.tok.Kind == identToken && l.tok.Value == w
}

// accept advances past bytes which satisfy the predicate and returns them.
func (l *lexer) accept(predicate func(byte) bool) []byte {
	start := l.pos
	for l.pos < len(l.src) && predicate(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

// scan lexes one token.
func (l *lexer) scan() token {
	if err := l.eatSpace(); err != nil {
		return l.bad(l.pos, err)
	}
	if l.pos >= len(l.src) {
		p := l.base + l.pos
		return token{Kind: eofToken, Pos: p, End: p}
	}
	switch c := l.src[l.pos]; {
	case isIdentStart(c):
		return l.lexIdent()
	case isDigit(c), c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]):
		return l.lexNumber()
	case c == '"', c == '\'':
		return l.lexString()
	default:
		return l.lexOp()
	}
}

var errUnterminatedComment = errors.New("unterminated comment")

// eatSpace consumes whitespace and comments.
func (l *lexer) eatSpace() error {
	for {
		l.accept(func(c byte) bool { return strings.IndexByte(" \t\r\n\f\v", c) >= 0 })
		rest := l.src[l.pos:]
		switch {
		case len(rest) >= 2 && rest[0] == '/' && rest[1] == '/':
			l.accept(func(c byte) bool { return c != '\n' })
		case len(rest) >= 2 && rest[0] == '/' && rest[1] == '*':
			end := strings.Index(string(rest[2:]), "*/")
			if end < 0 {
				l.pos = len(l.src)
				return errUnterminatedComment
			}
			l.pos += end + 4
		default:
			return nil
		}
	}
}

func (l *lexer) bad(start int, err error) token {
	return token{Kind: badToken, Value: string(l.src[start:l.pos]), Err: err, Pos: l.base + start, End: l.base + l.pos}
}

func (l *lexer) emit(kind tokenKind, start int, value string) token {
	return token{Kind: kind, Value: value, Pos: l.base + start, End: l.base + l.pos}
}

func isIdentStart(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_' || c == '$' || c >= utf8.RuneSelf
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHex(c byte) bool {
	return isDigit(c) || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// lexIdent lexes an identifier or keyword.
func (l *lexer) lexIdent() token {
	start := l.pos
	return l.emit(identToken, start, string(l.accept(isIdentPart)))
}

// lexNumber lexes a decimal, hexadecimal, or floating-point literal. The
// value is parsed only when the literal is evaluated.
func (l *lexer) lexNumber() token {
	start := l.pos
	if rest := l.src[l.pos:]; len(rest) >= 2 && rest[0] == '0' && (rest[1] == 'x' || rest[1] == 'X') {
		l.pos += 2
		if len(l.accept(isHex)) == 0 {
			return l.bad(start, errors.New("malformed hexadecimal literal"))
		}
		return l.emit(numberToken, start, string(l.src[start:l.pos]))
	}
	l.accept(isDigit)
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		l.accept(isDigit)
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if len(l.accept(isDigit)) == 0 {
			return l.bad(start, errors.New("malformed exponent"))
		}
	}
	if l.pos < len(l.src) && isIdentStart(l.src[l.pos]) {
		l.accept(isIdentPart)
		return l.bad(start, errors.New("identifier directly after number"))
	}
	return l.emit(numberToken, start, string(l.src[start:l.pos]))
}

// lexString lexes a quoted string and decodes its escapes.
func (l *lexer) lexString() token {
	start := l.pos
	q := l.src[l.pos]
	l.pos++
	var b strings.Builder
	for {
		if l.pos >= len(l.src) || l.src[l.pos] == '\n' {
			return l.bad(start, errors.New("unterminated string"))
		}
		c := l.src[l.pos]
		l.pos++
		switch c {
		case q:
			return l.emit(stringToken, start, b.String())
		case '\\':
			if l.pos >= len(l.src) {
				return l.bad(start, errors.New("unterminated string"))
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'v':
				b.WriteByte('\v')
			case '0':
				b.WriteByte(0)
			case '\n':
				// line continuation
			case 'x', 'u':
				n := 2
				if e == 'u' {
					n = 4
				}
				if l.pos+n > len(l.src) {
					return l.bad(start, errors.New("short escape sequence"))
				}
				v, err := strconv.ParseUint(string(l.src[l.pos:l.pos+n]), 16, 32)
				if err != nil {
					return l.bad(start, errors.New("malformed escape sequence"))
				}
				l.pos += n
				if e == 'x' {
					b.WriteByte(byte(v))
				} else {
					b.WriteRune(rune(v))
				}
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
}

// lexOp lexes an operator or punctuation.
func (l *lexer) lexOp() token {
	start := l.pos
	rest := l.src[l.pos:]
	for _, p := range punctuators {
		if len(rest) >= len(p) && string(rest[:len(p)]) == p {
			l.pos += len(p)
			return l.emit(punctToken, start, p)
		}
	}
	_, n := utf8.DecodeRune(rest)
	l.pos += n
	return l.bad(start, errors.New("unexpected character"))
}
