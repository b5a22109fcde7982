package parser

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF

	// Literals
	NUMBER

	// Operators
	PLUS     // +
	MINUS    // -
	ASTERISK // *
	SLASH    // /
	PERCENT  // %

	// Delimiters
	LPAREN // (
	RPAREN // )
)

type Token struct {
	Type    TokenType
	Literal string
	// Value is set for NUMBER tokens and already carries any unary sign.
	Value float64
	// Position is the byte offset in the raw input.
	Position int
}

// Lexer scans a validated, whitespace-free expression. Runs of '+' and '-' are
// folded into a single sign as they are read.
type Lexer struct {
	src          *source
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	prev         TokenType
	err          error
}

// NewLexer validates input and returns a lexer over it.
func NewLexer(input string) (*Lexer, error) {
	src, err := validate(input)
	if err != nil {
		return nil, err
	}
	l := &Lexer{
		src:   src,
		input: src.text,
		prev:  ILLEGAL,
	}
	l.readChar()
	return l, nil
}

// Tokenize validates input and returns its complete token stream, terminated
// by an EOF token.
func Tokenize(input string) ([]Token, error) {
	l, err := NewLexer(input)
	if err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(l.input)+1)
	for {
		tok := l.NextToken()
		if l.err != nil {
			return nil, l.err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}

// Err returns the first error encountered while scanning.
func (l *Lexer) Err() error {
	return l.err
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) offset() int {
	if l.position < len(l.src.offsets) {
		return l.src.offsets[l.position]
	}
	if n := len(l.src.offsets); n > 0 {
		return l.src.offsets[n-1] + 1
	}
	return 0
}

func (l *Lexer) NextToken() Token {
	if l.err != nil {
		return Token{Type: ILLEGAL, Position: l.offset()}
	}

	tok := l.nextToken()
	if tok.Type == ILLEGAL && l.err == nil {
		l.err = Syntax(tok.Position, "unexpected character %q", tok.Literal)
	}
	l.prev = tok.Type
	return tok
}

func (l *Lexer) nextToken() Token {
	pos := l.offset()

	switch l.ch {
	case '+', '-':
		return l.readSigned()
	case '*':
		return l.single(ASTERISK, pos)
	case '/':
		return l.single(SLASH, pos)
	case '%':
		return l.single(PERCENT, pos)
	case '(':
		return l.single(LPAREN, pos)
	case ')':
		return l.single(RPAREN, pos)
	case 0:
		return Token{Type: EOF, Position: pos}
	default:
		if isDigit(l.ch) || l.ch == '.' {
			return l.readNumber("", pos)
		}
		tok := Token{Type: ILLEGAL, Literal: string(l.ch), Position: pos}
		l.readChar()
		return tok
	}
}

func (l *Lexer) single(t TokenType, pos int) Token {
	tok := Token{Type: t, Literal: string(l.ch), Position: pos}
	l.readChar()
	return tok
}

// readSigned folds a run of '+'/'-' into one sign. In unary position the sign
// attaches to a following number, is dropped before '(' when positive, and
// otherwise becomes a token the parser treats as a prefix.
func (l *Lexer) readSigned() Token {
	pos := l.offset()
	negative := false
	for isSign(l.ch) {
		if l.ch == '-' {
			negative = !negative
		}
		l.readChar()
	}

	typ, lit := PLUS, "+"
	if negative {
		typ, lit = MINUS, "-"
	}

	if !l.unaryPosition() {
		return Token{Type: typ, Literal: lit, Position: pos}
	}

	switch {
	case isDigit(l.ch) || l.ch == '.':
		if negative {
			return l.readNumber("-", pos)
		}
		return l.readNumber("", pos)
	case l.ch == '(' && !negative:
		return l.nextToken()
	default:
		return Token{Type: typ, Literal: lit, Position: pos}
	}
}

func (l *Lexer) unaryPosition() bool {
	switch l.prev {
	case ILLEGAL, LPAREN, ASTERISK, SLASH, PERCENT:
		return true
	default:
		return false
	}
}

func (l *Lexer) readNumber(sign string, pos int) Token {
	start := l.position
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	digits := l.input[start:l.position]

	if strings.Count(digits, ".") > 1 {
		l.err = Syntax(pos, "number %q has more than one decimal point", digits)
		return Token{Type: ILLEGAL, Literal: digits, Position: pos}
	}
	if digits == "." {
		l.err = Syntax(pos, "decimal point without digits")
		return Token{Type: ILLEGAL, Literal: digits, Position: pos}
	}

	literal := sign + digits
	value, err := strconv.ParseFloat(literal, 64)
	// Underflow is reported as ErrRange with a usable value near zero.
	if err != nil && (!errors.Is(err, strconv.ErrRange) || math.IsInf(value, 0)) {
		if math.IsInf(value, 0) {
			l.err = Syntax(pos, "number %q is out of range", literal)
		} else {
			l.err = Syntax(pos, "could not parse %q as number", literal)
		}
		return Token{Type: ILLEGAL, Literal: literal, Position: pos}
	}

	return Token{Type: NUMBER, Literal: literal, Value: value, Position: pos}
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func (t TokenType) String() string {
	switch t {
	case ILLEGAL:
		return "ILLEGAL"
	case EOF:
		return "EOF"
	case NUMBER:
		return "NUMBER"
	case PLUS:
		return "+"
	case MINUS:
		return "-"
	case ASTERISK:
		return "*"
	case SLASH:
		return "/"
	case PERCENT:
		return "%"
	case LPAREN:
		return "("
	case RPAREN:
		return ")"
	default:
		return "UNKNOWN"
	}
}
