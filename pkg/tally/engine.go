package tally

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chosenoffset/tally/pkg/tally/metrics"
	"github.com/chosenoffset/tally/pkg/tally/parser"
)

var (
	// ErrExpressionTooLong is returned when the input exceeds MaxExpressionLength.
	ErrExpressionTooLong = errors.New("expression too long")
	// ErrExpressionTooComplex is returned when the parsed tree exceeds MaxComplexity.
	ErrExpressionTooComplex = errors.New("expression too complex")
)

// outcomeLimit is the metrics bucket for inputs rejected by Limits.
const outcomeLimit = "LIMIT_EXCEEDED"

// Engine is the single entry point for evaluating user-supplied expressions.
// It bounds input size before any parsing happens and records outcome
// statistics. It is safe for concurrent use.
type Engine struct {
	evaluator *Evaluator
	stats     *metrics.EvalMetrics
	logger    *log.Logger

	limits Limits
	mutex  sync.RWMutex
}

// Limits bounds the work a single evaluation may do.
type Limits struct {
	MaxExpressionLength int // Maximum input length in bytes, 0 disables
	MaxComplexity       int // Maximum AST nodes per expression, 0 disables
}

// DefaultLimits returns limits sized for chat-style input.
func DefaultLimits() Limits {
	return Limits{
		MaxExpressionLength: 256,
		MaxComplexity:       512,
	}
}

// Result is a successful evaluation.
type Result struct {
	Expression string  // normalized input, whitespace removed and signs folded
	Value      float64 // full-precision value
	Display    string  // Value rendered by Format
}

// NewEngine creates an engine with DefaultLimits that logs to the standard logger.
func NewEngine() *Engine {
	return &Engine{
		evaluator: NewEvaluator(),
		stats: metrics.NewEvalMetrics(
			parser.EmptyExpression.String(),
			parser.InvalidCharacter.String(),
			parser.MalformedSyntax.String(),
			parser.DivisionByZero.String(),
			outcomeLimit,
		),
		logger: log.Default(),
		limits: DefaultLimits(),
	}
}

// SetLimits updates the evaluation limits.
func (e *Engine) SetLimits(limits Limits) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.limits = limits
}

// GetLimits returns the current limits.
func (e *Engine) GetLimits() Limits {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.limits
}

// SetLogger replaces the logger used for unexpected evaluation failures.
func (e *Engine) SetLogger(logger *log.Logger) {
	if logger == nil {
		return
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.logger = logger
}

// Stats returns evaluation counters.
func (e *Engine) Stats() metrics.EvalStats {
	return e.stats.GetStats()
}

// Evaluate computes input and returns the display string. Errors are either
// *parser.Error values classified by kind or limit errors.
func (e *Engine) Evaluate(input string) (string, error) {
	res, err := e.Compute(context.Background(), input)
	if err != nil {
		return "", err
	}
	return res.Display, nil
}

// Compute validates, parses and evaluates input.
func (e *Engine) Compute(ctx context.Context, input string) (res *Result, err error) {
	start := time.Now()
	limits := e.GetLimits()

	defer func() {
		if r := recover(); r != nil {
			e.log("panic during evaluation of %q: %v", input, r)
			res, err = nil, parser.Syntax(-1, "expression could not be evaluated")
		}
		e.observe(err, time.Since(start))
	}()

	if limits.MaxExpressionLength > 0 && len(input) > limits.MaxExpressionLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrExpressionTooLong, len(input), limits.MaxExpressionLength)
	}

	tokens, err := parser.Tokenize(input)
	if err != nil {
		return nil, err
	}

	exp, err := parser.Parse(tokens)
	if err != nil {
		return nil, err
	}

	if limits.MaxComplexity > 0 {
		if complexity := exp.CountNodes(); complexity > limits.MaxComplexity {
			return nil, fmt.Errorf("%w: %d nodes exceeds limit of %d", ErrExpressionTooComplex, complexity, limits.MaxComplexity)
		}
	}

	value, err := e.evaluator.EvalWithContext(ctx, exp)
	if err != nil {
		return nil, err
	}

	return &Result{
		Expression: stripped(tokens),
		Value:      value,
		Display:    Format(value),
	}, nil
}

func (e *Engine) observe(err error, d time.Duration) {
	switch {
	case err == nil:
		e.stats.ObserveSuccess(d)
	case errors.Is(err, ErrExpressionTooLong), errors.Is(err, ErrExpressionTooComplex):
		e.stats.ObserveFailure(outcomeLimit, d)
	default:
		e.stats.ObserveFailure(parser.KindOf(err).String(), d)
	}
}

func (e *Engine) log(format string, a ...interface{}) {
	e.mutex.RLock()
	logger := e.logger
	e.mutex.RUnlock()
	logger.Printf(format, a...)
}

// stripped rebuilds the normalized expression from its tokens.
func stripped(tokens []parser.Token) string {
	var out []byte
	for _, tok := range tokens {
		if tok.Type == parser.EOF {
			break
		}
		out = append(out, tok.Literal...)
	}
	return string(out)
}
