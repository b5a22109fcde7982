package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/chosenoffset/tally/pkg/tally"
	"github.com/chosenoffset/tally/pkg/tally/parser"
)

// Calculator evaluates an expression into display text.
type Calculator interface {
	Evaluate(input string) (string, error)
}

const rule = "═══════════════════════════════"

// RegisterDefaults registers calc, ping and help on r.
func RegisterDefaults(r *Registry, calc Calculator, prefix string) error {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	defaults := []Command{
		{
			Name:        "calc",
			Aliases:     []string{"c"},
			Usage:       prefix + "calc [expression]",
			Description: "Evaluate an arithmetic expression",
			Example:     prefix + "calc (10+5)*2",
			TakesArgs:   true,
			Handler:     CalcHandler(calc),
		},
		{
			Name:        "ping",
			Usage:       prefix + "ping",
			Description: "Check if bot is alive",
			Handler: HandlerFunc(func(context.Context, Request) (Response, error) {
				return Response{Text: CodeBlock("🏓 Pong! Bot is alive!")}, nil
			}),
		},
		{
			Name:        "help",
			Usage:       prefix + "help",
			Description: "Show this help message",
			Handler: HandlerFunc(func(context.Context, Request) (Response, error) {
				return Response{Text: HelpText(r)}, nil
			}),
		},
	}

	for _, cmd := range defaults {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// CalcHandler evaluates the command arguments with calc.
func CalcHandler(calc Calculator) Handler {
	return HandlerFunc(func(_ context.Context, req Request) (Response, error) {
		result, err := calc.Evaluate(req.Args)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: CodeBlock("🧮 " + req.Args + " = " + result), Result: result}, nil
	})
}

// HelpText lists the commands registered on r.
func HelpText(r *Registry) string {
	lines := []string{
		"🤖 Userbot Commands",
		rule,
	}
	for _, cmd := range r.Commands() {
		lines = append(lines, "", cmd.Usage, "  → "+cmd.Description)
		if cmd.Example != "" {
			lines = append(lines, "  → Example: "+cmd.Example)
		}
	}
	return CodeBlock(strings.Join(lines, "\n"))
}

// UserMessage returns the text shown to a user in place of a result. Examples
// in the message use prefix, or DefaultPrefix when it is empty.
func UserMessage(err error, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	switch {
	case errors.Is(err, tally.ErrExpressionTooLong):
		return "Error: Expression is too long."
	case errors.Is(err, tally.ErrExpressionTooComplex):
		return "Error: Expression is too complex."
	}

	var perr *parser.Error
	if !errors.As(err, &perr) {
		return "Error: " + err.Error()
	}

	switch perr.Kind {
	case parser.EmptyExpression:
		return "Error: Please provide an expression.\nExample: " + prefix + "calc 2+2"
	case parser.InvalidCharacter:
		return "Error: Invalid character '" + string(perr.Char) + "'.\n" +
			"Only numbers and " + strings.Join(strings.Split(parser.AllowedCharacters[10:], ""), " ") + " are allowed."
	case parser.DivisionByZero:
		return "Error: Division by zero is not allowed."
	default:
		return "Error: Invalid expression syntax.\nExample: " + prefix + "calc (10+5)*2"
	}
}
