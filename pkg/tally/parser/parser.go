package parser

const (
	_ int = iota
	LOWEST
	SUM     // + -
	PRODUCT // * / %
	PREFIX  // -X
)

var precedences = map[TokenType]int{
	PLUS:     SUM,
	MINUS:    SUM,
	ASTERISK: PRODUCT,
	SLASH:    PRODUCT,
	PERCENT:  PRODUCT,
}

type (
	prefixParseFn func() Expression
	infixParseFn  func(Expression) Expression
)

// Parser builds an expression tree from a token stream using precedence
// climbing. It never trusts the stream to be well formed.
type Parser struct {
	tokens []Token
	pos    int

	curToken  Token
	peekToken Token

	errors []*Error

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

func New(tokens []Token) *Parser {
	p := &Parser{
		tokens: tokens,
		errors: []*Error{},
	}

	p.prefixParseFns = make(map[TokenType]prefixParseFn)
	p.registerPrefix(NUMBER, p.parseNumberLiteral)
	p.registerPrefix(MINUS, p.parsePrefixExpression)
	p.registerPrefix(LPAREN, p.parseGroupedExpression)

	p.infixParseFns = make(map[TokenType]infixParseFn)
	p.registerInfix(PLUS, p.parseInfixExpression)
	p.registerInfix(MINUS, p.parseInfixExpression)
	p.registerInfix(ASTERISK, p.parseInfixExpression)
	p.registerInfix(SLASH, p.parseInfixExpression)
	p.registerInfix(PERCENT, p.parseInfixExpression)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

// Parse parses a whole token stream into a single expression.
func Parse(tokens []Token) (Expression, error) {
	p := New(tokens)
	exp := p.ParseExpression()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return exp, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	if p.pos < len(p.tokens) {
		p.peekToken = p.tokens[p.pos]
		p.pos++
		return
	}
	// A stream without its EOF terminator still ends cleanly.
	p.peekToken = Token{Type: EOF, Position: p.curToken.Position}
}

// ParseExpression parses the complete stream. Tokens left over after the
// expression are reported as errors.
func (p *Parser) ParseExpression() Expression {
	if p.curTokenIs(EOF) {
		p.errors = append(p.errors, ErrEmptyExpression)
		return nil
	}

	exp := p.parseExpression(LOWEST)
	if p.failed() {
		return nil
	}

	if !p.peekTokenIs(EOF) {
		p.errors = append(p.errors, Syntax(p.peekToken.Position, "unexpected %s after expression", describe(p.peekToken)))
		return nil
	}

	return exp
}

func (p *Parser) parseExpression(precedence int) Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}
	leftExp := prefix()

	for !p.failed() && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()

		leftExp = infix(leftExp)
	}

	if p.failed() {
		return nil
	}
	return leftExp
}

func (p *Parser) parseNumberLiteral() Expression {
	return &NumberLiteral{Token: p.curToken, Value: p.curToken.Value}
}

func (p *Parser) parsePrefixExpression() Expression {
	expression := &PrefixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
	}

	p.nextToken()

	// Only a number or a group may follow a unary minus.
	if !p.curTokenIs(NUMBER) && !p.curTokenIs(LPAREN) {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}

	expression.Right = p.parseExpression(PREFIX)
	if expression.Right == nil {
		return nil
	}

	return expression
}

func (p *Parser) parseInfixExpression(left Expression) Expression {
	expression := &InfixExpression{
		Token:    p.curToken,
		Left:     left,
		Operator: p.curToken.Literal,
	}

	precedence := p.curPrecedence()
	p.nextToken()
	expression.Right = p.parseExpression(precedence)
	if expression.Right == nil {
		return nil
	}

	return expression
}

func (p *Parser) parseGroupedExpression() Expression {
	p.nextToken()

	exp := p.parseExpression(LOWEST)
	if exp == nil {
		return nil
	}

	if !p.expectPeek(RPAREN) {
		return nil
	}

	return exp
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) failed() bool {
	return len(p.errors) > 0
}

func (p *Parser) Errors() []*Error {
	return p.errors
}

func (p *Parser) peekError(t TokenType) {
	p.errors = append(p.errors, Syntax(p.peekToken.Position,
		"expected %s, got %s instead", t, describe(p.peekToken)))
}

func (p *Parser) noPrefixParseFnError(tok Token) {
	p.errors = append(p.errors, Syntax(tok.Position, "unexpected %s", describe(tok)))
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}

	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}

	return LOWEST
}

func (p *Parser) registerPrefix(tokenType TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF:
		return "end of expression"
	case NUMBER:
		return "number " + tok.Literal
	default:
		return "'" + tok.Type.String() + "'"
	}
}
