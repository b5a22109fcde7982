// Package tally evaluates user-supplied arithmetic expressions safely.
//
// # Overview
//
// Input passes through three stages and never reaches a general-purpose
// interpreter:
//
//   - Validation: a character whitelist and structural checks reject input
//     before anything is parsed (see package parser).
//   - Evaluation: a precedence-climbing parser builds a small tree which the
//     Evaluator walks, detecting division and modulo by zero.
//   - Formatting: results are grouped in thousands, integers without a decimal
//     point, fractions rounded to six places.
//
// # Quick Start
//
//	engine := tally.NewEngine()
//	out, err := engine.Evaluate("(100+50)/2*3")
//	// out == "225"
//
// # Grammar
//
//	expr   := term (('+' | '-') term)*
//	term   := factor (('*' | '/' | '%') factor)*
//	factor := ['-'] (number | '(' expr ')')
//
// Runs of '+' and '-' fold into one sign, so "--5" is 5 and "10+-5" is 5.
// The '%' operator takes the sign of its divisor.
//
// # Errors
//
// Failures are *parser.Error values with one of four kinds: EmptyExpression,
// InvalidCharacter, MalformedSyntax and DivisionByZero. Use errors.Is with the
// parser.Err* sentinels to classify them. Inputs over the engine's Limits fail
// with ErrExpressionTooLong or ErrExpressionTooComplex.
//
// # Concurrency
//
// Evaluator, Format and the parser functions hold no shared mutable state. An
// Engine guards its limits and counters and may be shared between goroutines.
package tally
