package tally

import (
	"context"
	"fmt"
	"math"

	"github.com/chosenoffset/tally/pkg/tally/parser"
)

// Evaluator walks an expression tree and computes its value. It holds no
// state, so a single Evaluator may be shared between goroutines.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate parses a token stream and computes its value.
func Evaluate(tokens []parser.Token) (float64, error) {
	exp, err := parser.Parse(tokens)
	if err != nil {
		return 0, err
	}
	return NewEvaluator().Eval(exp)
}

func (e *Evaluator) Eval(node parser.Node) (float64, error) {
	return e.EvalWithContext(context.Background(), node)
}

func (e *Evaluator) EvalWithContext(ctx context.Context, node parser.Node) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("evaluation cancelled: %w", ctx.Err())
	default:
	}

	switch node := node.(type) {
	case *parser.NumberLiteral:
		return node.Value, nil

	case *parser.PrefixExpression:
		right, err := e.EvalWithContext(ctx, node.Right)
		if err != nil {
			return 0, err
		}
		return e.evalPrefixExpression(node, right)

	case *parser.InfixExpression:
		left, err := e.EvalWithContext(ctx, node.Left)
		if err != nil {
			return 0, err
		}
		right, err := e.EvalWithContext(ctx, node.Right)
		if err != nil {
			return 0, err
		}
		return e.evalInfixExpression(node, left, right)

	case nil:
		return 0, parser.Syntax(-1, "missing operand")

	default:
		return 0, parser.Syntax(-1, "unknown node type: %T", node)
	}
}

func (e *Evaluator) evalPrefixExpression(node *parser.PrefixExpression, right float64) (float64, error) {
	switch node.Operator {
	case "-":
		return -right, nil
	default:
		return 0, parser.Syntax(node.Token.Position, "unknown prefix operator: %s", node.Operator)
	}
}

func (e *Evaluator) evalInfixExpression(node *parser.InfixExpression, left, right float64) (float64, error) {
	pos := node.Token.Position

	switch node.Operator {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, &parser.Error{Kind: parser.DivisionByZero, Message: "division by zero", Position: pos}
		}
		return left / right, nil
	case "%":
		if right == 0 {
			return 0, &parser.Error{Kind: parser.DivisionByZero, Message: "modulo by zero", Position: pos}
		}
		return floorMod(left, right), nil
	default:
		return 0, parser.Syntax(pos, "unknown operator: %s", node.Operator)
	}
}

// floorMod returns the remainder of a/b with the sign of b.
func floorMod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}
