package parser

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an expression could not be evaluated.
type ErrorKind int

const (
	_ ErrorKind = iota
	EmptyExpression
	InvalidCharacter
	MalformedSyntax
	DivisionByZero
)

func (k ErrorKind) String() string {
	switch k {
	case EmptyExpression:
		return "EMPTY_EXPRESSION"
	case InvalidCharacter:
		return "INVALID_CHARACTER"
	case MalformedSyntax:
		return "MALFORMED_SYNTAX"
	case DivisionByZero:
		return "DIVISION_BY_ZERO"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified evaluation failure. Position is the byte offset in the
// raw input where the problem was detected, or -1 when it has no location.
type Error struct {
	Kind     ErrorKind
	Message  string
	Position int
	// Char is the rejected rune for InvalidCharacter errors.
	Char rune
}

func (e *Error) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("%s at offset %d", e.Message, e.Position)
	}
	return e.Message
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below match any error of their kind through errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrEmptyExpression  = &Error{Kind: EmptyExpression, Message: "empty expression", Position: -1}
	ErrInvalidCharacter = &Error{Kind: InvalidCharacter, Message: "invalid character", Position: -1}
	ErrMalformedSyntax  = &Error{Kind: MalformedSyntax, Message: "malformed syntax", Position: -1}
	ErrDivisionByZero   = &Error{Kind: DivisionByZero, Message: "division by zero", Position: -1}
)

func newError(kind ErrorKind, pos int, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Position: pos}
}

// Syntax returns a MalformedSyntax error at pos.
func Syntax(pos int, format string, a ...interface{}) *Error {
	return newError(MalformedSyntax, pos, format, a...)
}

// KindOf extracts the ErrorKind from err, or 0 if err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
