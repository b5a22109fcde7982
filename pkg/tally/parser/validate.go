package parser

import (
	"strings"
	"unicode/utf8"
)

// AllowedCharacters lists every non-whitespace character an expression may contain.
const AllowedCharacters = "0123456789+-*/().%"

// source is an expression with whitespace removed. offsets[i] is the byte
// offset of text[i] in the raw input.
type source struct {
	text    string
	offsets []int
}

// Validate applies the character whitelist and the structural rules to input
// and returns the whitespace-stripped expression.
func Validate(input string) (string, error) {
	src, err := validate(input)
	if err != nil {
		return "", err
	}
	return src.text, nil
}

func validate(input string) (*source, error) {
	src, err := strip(input)
	if err != nil {
		return nil, err
	}
	if err := checkStructure(src); err != nil {
		return nil, err
	}
	return src, nil
}

func strip(input string) (*source, error) {
	var b strings.Builder
	b.Grow(len(input))
	offsets := make([]int, 0, len(input))

	for i := 0; i < len(input); {
		ch := input[i]
		if isWhitespace(ch) {
			i++
			continue
		}
		if ch >= utf8.RuneSelf || strings.IndexByte(AllowedCharacters, ch) < 0 {
			r, _ := utf8.DecodeRuneInString(input[i:])
			return nil, &Error{
				Kind:     InvalidCharacter,
				Message:  "invalid character " + quoteRune(r),
				Position: i,
				Char:     r,
			}
		}
		b.WriteByte(ch)
		offsets = append(offsets, i)
		i++
	}

	if b.Len() == 0 {
		return nil, ErrEmptyExpression
	}
	return &source{text: b.String(), offsets: offsets}, nil
}

func checkStructure(src *source) error {
	s := src.text
	first, last := s[0], s[len(s)-1]

	if isMulOp(first) {
		return Syntax(src.offsets[0], "expression cannot start with %q", first)
	}
	if first == ')' {
		return Syntax(src.offsets[0], "expression cannot start with ')'")
	}
	if last == '(' {
		return Syntax(src.offsets[len(s)-1], "expression cannot end with '('")
	}

	depth := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case isMulOp(ch) && i > 0 && isMulOp(s[i-1]):
			return Syntax(src.offsets[i], "operator %q cannot follow %q", ch, s[i-1])
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return Syntax(src.offsets[i], "unmatched ')'")
			}
		}
	}
	if depth != 0 {
		return Syntax(-1, "unbalanced parentheses: %d unclosed '('", depth)
	}
	return nil
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f'
}

func isMulOp(ch byte) bool {
	return ch == '*' || ch == '/' || ch == '%'
}

func isSign(ch byte) bool {
	return ch == '+' || ch == '-'
}

func quoteRune(r rune) string {
	if r == utf8.RuneError {
		return "'\\ufffd'"
	}
	return "'" + string(r) + "'"
}
