package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokPlus
	tokMinus
	tokLParen
	tokRParen
	tokColon
	tokCaret
	tokTilde
	tokTerm
	tokPhrase
	tokRegexp
	tokRange
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of query",
	tokAnd:    "AND",
	tokOr:     "OR",
	tokNot:    "NOT",
	tokPlus:   "'+'",
	tokMinus:  "'-'",
	tokLParen: "'('",
	tokRParen: "')'",
	tokColon:  "':'",
	tokCaret:  "'^'",
	tokTilde:  "'~'",
	tokTerm:   "term",
	tokPhrase: "phrase",
	tokRegexp: "regular expression",
	tokRange:  "range",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	pos  int
	text string

	// wild is set on terms holding an unescaped '*' or '?'.
	wild bool
	// num is the optional numeric argument of '~' and '^'.
	num    float64
	hasNum bool

	// Range bounds. An empty bound with open set is unbounded.
	lower, upper         string
	lowerOpen, upperOpen bool
	inclLower, inclUpper bool
}

// SyntaxError reports where a query failed to parse.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

func isSpecial(r rune) bool {
	switch r {
	case '+', '-', '!', '(', ')', ':', '^', '[', ']', '"', '{', '}', '~', '\\', '/':
		return true
	}
	return false
}

type lexer struct {
	src string
	pos int
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	var toks []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) peek() (rune, int) {
	if l.pos >= len(l.src) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(l.src[l.pos:])
}

func (l *lexer) skipSpace() {
	for {
		r, w := l.peek()
		if w == 0 || !unicode.IsSpace(r) {
			return
		}
		l.pos += w
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	r, w := l.peek()
	if w == 0 {
		return token{kind: tokEOF, pos: start}, nil
	}

	simple := func(k tokenKind, width int) (token, error) {
		l.pos += width
		return token{kind: k, pos: start}, nil
	}
	rest := l.src[l.pos:]
	switch {
	case strings.HasPrefix(rest, "&&"):
		return simple(tokAnd, 2)
	case strings.HasPrefix(rest, "||"):
		return simple(tokOr, 2)
	}

	switch r {
	case '+':
		return simple(tokPlus, 1)
	case '-':
		return simple(tokMinus, 1)
	case '!':
		return simple(tokNot, 1)
	case '(':
		return simple(tokLParen, 1)
	case ')':
		return simple(tokRParen, 1)
	case ':':
		return simple(tokColon, 1)
	case '^':
		l.pos++
		n, ok := l.number()
		if !ok {
			return token{}, &SyntaxError{Pos: start, Msg: "'^' must be followed by a number"}
		}
		return token{kind: tokCaret, pos: start, num: n, hasNum: true}, nil
	case '~':
		l.pos++
		n, ok := l.number()
		return token{kind: tokTilde, pos: start, num: n, hasNum: ok}, nil
	case '"':
		return l.phrase()
	case '/':
		return l.regexp()
	case '[', '{':
		return l.rangeExpr()
	case ']', '}':
		return token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected %q", r)}
	}
	return l.term()
}

// number reads an optional unsigned decimal right after '~' or '^'.
func (l *lexer) number() (float64, bool) {
	start := l.pos
	for l.pos < len(l.src) && (l.src[l.pos] == '.' || (l.src[l.pos] >= '0' && l.src[l.pos] <= '9')) {
		l.pos++
	}
	if l.pos == start {
		return 0, false
	}
	n, err := strconv.ParseFloat(l.src[start:l.pos], 64)
	if err != nil {
		l.pos = start
		return 0, false
	}
	return n, true
}

func (l *lexer) term() (token, error) {
	start := l.pos
	var sb strings.Builder
	wild := false
	for {
		r, w := l.peek()
		if w == 0 || unicode.IsSpace(r) {
			break
		}
		if r == '\\' {
			l.pos += w
			esc, ew := l.peek()
			if ew == 0 {
				return token{}, &SyntaxError{Pos: l.pos, Msg: "term can not end with escape character"}
			}
			sb.WriteRune(esc)
			l.pos += ew
			continue
		}
		// '+' and '-' are only special at the start of a term.
		if isSpecial(r) && !(sb.Len() > 0 && (r == '+' || r == '-')) {
			break
		}
		if r == '*' || r == '?' {
			wild = true
		}
		sb.WriteRune(r)
		l.pos += w
	}

	text := sb.String()
	if l.pos == start {
		r, _ := l.peek()
		return token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected %q", r)}
	}
	if !wild {
		switch text {
		case "AND":
			return token{kind: tokAnd, pos: start}, nil
		case "OR":
			return token{kind: tokOr, pos: start}, nil
		case "NOT":
			return token{kind: tokNot, pos: start}, nil
		}
	}
	return token{kind: tokTerm, pos: start, text: text, wild: wild}, nil
}

// quoted reads up to the closing delimiter, honoring backslash escapes.
func (l *lexer) quoted(delim byte, what string) (string, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			if delim == '/' && l.src[l.pos+1] != '/' {
				sb.WriteByte(c)
			}
			sb.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == delim:
			l.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return "", &SyntaxError{Pos: start, Msg: "unterminated " + what}
}

func (l *lexer) phrase() (token, error) {
	start := l.pos
	text, err := l.quoted('"', "phrase")
	if err != nil {
		return token{}, err
	}
	return token{kind: tokPhrase, pos: start, text: text}, nil
}

func (l *lexer) regexp() (token, error) {
	start := l.pos
	text, err := l.quoted('/', "regular expression")
	if err != nil {
		return token{}, err
	}
	return token{kind: tokRegexp, pos: start, text: text}, nil
}

// rangeExpr reads "[a TO b]" or "{a TO b}" in any bracket combination.
func (l *lexer) rangeExpr() (token, error) {
	start := l.pos
	t := token{kind: tokRange, pos: start, inclLower: l.src[l.pos] == '['}
	l.pos++

	var err error
	if t.lower, t.lowerOpen, err = l.bound(); err != nil {
		return token{}, err
	}
	l.skipSpace()
	if !strings.HasPrefix(l.src[l.pos:], "TO") {
		return token{}, &SyntaxError{Pos: l.pos, Msg: "expected TO in range"}
	}
	l.pos += 2
	if t.upper, t.upperOpen, err = l.bound(); err != nil {
		return token{}, err
	}
	l.skipSpace()
	if l.pos >= len(l.src) || (l.src[l.pos] != ']' && l.src[l.pos] != '}') {
		return token{}, &SyntaxError{Pos: l.pos, Msg: "unterminated range"}
	}
	t.inclUpper = l.src[l.pos] == ']'
	l.pos++
	return t, nil
}

func (l *lexer) bound() (string, bool, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return "", false, &SyntaxError{Pos: l.pos, Msg: "unterminated range"}
	}
	if l.src[l.pos] == '"' {
		s, err := l.quoted('"', "range bound")
		return s, false, err
	}
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ']' || c == '}' {
			break
		}
		l.pos++
	}
	s := l.src[start:l.pos]
	if s == "" {
		return "", false, &SyntaxError{Pos: start, Msg: "empty range bound"}
	}
	return s, s == "*", nil
}
