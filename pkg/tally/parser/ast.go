package parser

import (
	"bytes"
)

type Node interface {
	TokenLiteral() string
	String() string
	// CountNodes returns the number of nodes in the subtree rooted here.
	CountNodes() int
}

type Expression interface {
	Node
	expressionNode()
}

type NumberLiteral struct {
	Token Token // the token.NUMBER token
	Value float64
}

func (nl *NumberLiteral) expressionNode()      {}
func (nl *NumberLiteral) TokenLiteral() string { return nl.Token.Literal }
func (nl *NumberLiteral) String() string       { return nl.Token.Literal }
func (nl *NumberLiteral) CountNodes() int      { return 1 }

type PrefixExpression struct {
	Token    Token // the prefix token, always -
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode()      {}
func (pe *PrefixExpression) TokenLiteral() string { return pe.Token.Literal }
func (pe *PrefixExpression) String() string {
	var out bytes.Buffer
	out.WriteString("(")
	out.WriteString(pe.Operator)
	if pe.Right != nil {
		out.WriteString(pe.Right.String())
	}
	out.WriteString(")")
	return out.String()
}
func (pe *PrefixExpression) CountNodes() int {
	return 1 + countNodes(pe.Right)
}

type InfixExpression struct {
	Token    Token // the operator token, e.g. +, -, *, /, %
	Left     Expression
	Operator string
	Right    Expression
}

func (ie *InfixExpression) expressionNode()      {}
func (ie *InfixExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *InfixExpression) String() string {
	var out bytes.Buffer
	out.WriteString("(")
	if ie.Left != nil {
		out.WriteString(ie.Left.String())
	}
	out.WriteString(" " + ie.Operator + " ")
	if ie.Right != nil {
		out.WriteString(ie.Right.String())
	}
	out.WriteString(")")
	return out.String()
}
func (ie *InfixExpression) CountNodes() int {
	return 1 + countNodes(ie.Left) + countNodes(ie.Right)
}

func countNodes(n Node) int {
	if n == nil {
		return 0
	}
	return n.CountNodes()
}
