// Package parser turns condition text into an ast.Group by recursive
// descent over the lexer's tokens:
//
//	group       := item (conjunction item)*
//	item        := expression | '(' group ')'
//	conjunction := AND | OR
//	expression  := IDENTIFIER operator value
//	value       := STRING | NUMBER | '[' value (',' value)* ']'
//
// Input that ends early is reported as unbalanced parentheses, or as
// unbalanced brackets when an array is still open.
package parser

import (
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/ast"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/lexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

var operators = map[lexer.Kind]ast.Operator{
	lexer.In:    ast.OpIn,
	lexer.NotIn: ast.OpNotIn,
	lexer.Eq:    ast.OpEq,
	lexer.Neq:   ast.OpNeq,
	lexer.Gt:    ast.OpGt,
	lexer.Gte:   ast.OpGte,
	lexer.Lt:    ast.OpLt,
	lexer.Lte:   ast.OpLte,
}

var conjunctions = map[lexer.Kind]ast.Conjunction{
	lexer.And: ast.And,
	lexer.Or:  ast.Or,
}

// Parse lexes and parses text. The result is always the outermost group.
func Parse(text string) (*ast.Group, error) {
	tokens, err := lexer.Significant(text)
	if err != nil {
		return nil, err
	}
	return ParseTokens(tokens, len(text))
}

// ParseTokens parses an already lexed token sequence; separators must have
// been removed. end is the offset reported for errors at end of input.
func ParseTokens(tokens []lexer.Token, end int) (*ast.Group, error) {
	p := &parser{tokens: tokens, end: end}
	return p.parseGroup(0)
}

// parser holds a cursor that only moves forward.
type parser struct {
	tokens []lexer.Token
	pos    int
	end    int
}

func (p *parser) peek() (lexer.Token, bool) {
	if p.pos >= len(p.tokens) {
		return lexer.Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (lexer.Token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

func (p *parser) parseGroup(depth int) (*ast.Group, error) {
	group := ast.NewGroup()
	expectItem := true
	for {
		tok, ok := p.peek()
		if !ok {
			if depth > 0 {
				return nil, p.atEnd(apperrors.ErrUnbalancedParentheses, "group opened with `(` is not closed")
			}
			if expectItem {
				return nil, p.atEnd(apperrors.ErrUnbalancedParentheses, "condition ends where an operand is expected")
			}
			if err := group.Finalize(); err != nil {
				return nil, at(err, p.end)
			}
			return group, nil
		}

		switch {
		case tok.Kind == lexer.GroupEnd:
			if depth == 0 {
				return nil, errorAt(apperrors.ErrUnbalancedParentheses, tok, "`)` has no matching `(`")
			}
			if expectItem {
				return nil, errorAt(apperrors.ErrUnexpectedToken, tok, "operand expected before `)`")
			}
			p.next()
			if err := group.Finalize(); err != nil {
				return nil, at(err, tok.Pos)
			}
			return group, nil

		case tok.Kind == lexer.ArrayEnd:
			return nil, errorAt(apperrors.ErrUnbalancedBrackets, tok, "`]` has no matching `[`")

		case tok.Kind.IsConjunction():
			if expectItem && group.Len() > 0 {
				return nil, errorAt(apperrors.ErrUnexpectedToken, tok, fmt.Sprintf("operand expected, got %q", tok.Raw))
			}
			if err := group.SetConjunction(conjunctions[tok.Kind]); err != nil {
				return nil, at(err, tok.Pos)
			}
			p.next()
			expectItem = true

		default:
			if !expectItem {
				return nil, errorAt(apperrors.ErrMissingConjunction, tok,
					fmt.Sprintf("and / or expected before %q", tok.Raw))
			}
			item, err := p.parseItem(depth)
			if err != nil {
				return nil, err
			}
			group.AddItem(item)
			expectItem = false
		}
	}
}

func (p *parser) parseItem(depth int) (ast.Node, error) {
	tok, _ := p.peek()
	if tok.Kind == lexer.GroupStart {
		p.next()
		return p.parseGroup(depth + 1)
	}
	return p.parseExpression(depth)
}

func (p *parser) parseExpression(depth int) (*ast.Expression, error) {
	expr := &ast.Expression{}

	tok, _ := p.next()
	switch {
	case tok.Kind == lexer.Identifier:
		if err := expr.SetProperty(tok.Lexeme); err != nil {
			return nil, at(err, tok.Pos)
		}
	case tok.Kind.IsOperator():
		return nil, at(expr.SetOperator(operators[tok.Kind]), tok.Pos)
	case tok.Kind.IsLiteral():
		return nil, at(expr.SetValue(literal(tok)), tok.Pos)
	case tok.Kind == lexer.ArrayStart:
		return nil, at(expr.SetValue(ast.List()), tok.Pos)
	default:
		return nil, errorAt(apperrors.ErrUnexpectedToken, tok, fmt.Sprintf("property name expected, got %q", tok.Raw))
	}

	tok, ok := p.next()
	if !ok {
		return nil, p.atEnd(apperrors.ErrUnbalancedParentheses,
			fmt.Sprintf("comparison operator expected after %q", expr.Property()))
	}
	switch {
	case tok.Kind.IsOperator():
		if err := expr.SetOperator(operators[tok.Kind]); err != nil {
			return nil, at(err, tok.Pos)
		}
	case tok.Kind.IsLiteral():
		return nil, at(expr.SetValue(literal(tok)), tok.Pos)
	case tok.Kind == lexer.ArrayStart:
		return nil, at(expr.SetValue(ast.List()), tok.Pos)
	default:
		if err := stray(tok, depth); err != nil {
			return nil, err
		}
		return nil, errorAt(apperrors.ErrUnexpectedToken, tok,
			fmt.Sprintf("comparison operator expected after %q, got %q", expr.Property(), tok.Raw))
	}

	value, valuePos, err := p.parseValue(expr, depth)
	if err != nil {
		return nil, err
	}
	if err := expr.SetValue(value); err != nil {
		return nil, at(err, valuePos)
	}
	return expr, nil
}

func (p *parser) parseValue(expr *ast.Expression, depth int) (ast.Literal, int, error) {
	tok, ok := p.next()
	if !ok {
		return ast.Literal{}, 0, p.atEnd(apperrors.ErrUnbalancedParentheses,
			fmt.Sprintf("value expected after %q", expr.Operator()))
	}
	switch {
	case tok.Kind.IsLiteral():
		return literal(tok), tok.Pos, nil
	case tok.Kind == lexer.ArrayStart:
		list, err := p.parseArray()
		return list, tok.Pos, err
	default:
		if err := stray(tok, depth); err != nil {
			return ast.Literal{}, 0, err
		}
		return ast.Literal{}, 0, errorAt(apperrors.ErrUnexpectedToken, tok,
			fmt.Sprintf("value expected after %q, got %q", expr.Operator(), tok.Raw))
	}
}

// parseArray is entered after the opening bracket has been consumed.
func (p *parser) parseArray() (ast.Literal, error) {
	var items []ast.Literal
	for {
		tok, ok := p.next()
		if !ok {
			return ast.Literal{}, p.atEnd(apperrors.ErrUnbalancedBrackets, "array opened with `[` is not closed")
		}
		switch {
		case tok.Kind.IsLiteral():
			items = append(items, literal(tok))
		case tok.Kind == lexer.ArrayStart:
			nested, err := p.parseArray()
			if err != nil {
				return ast.Literal{}, err
			}
			items = append(items, nested)
		case tok.Kind == lexer.ArrayEnd:
			return ast.Literal{}, errorAt(apperrors.ErrUnexpectedToken, tok, "array value expected before `]`")
		default:
			return ast.Literal{}, errorAt(apperrors.ErrUnexpectedToken, tok,
				fmt.Sprintf("array value expected, got %q", tok.Raw))
		}

		sep, ok := p.next()
		if !ok {
			return ast.Literal{}, p.atEnd(apperrors.ErrUnbalancedBrackets, "array opened with `[` is not closed")
		}
		switch sep.Kind {
		case lexer.ArraySeparator:
		case lexer.ArrayEnd:
			return ast.List(items...), nil
		case lexer.GroupEnd:
			return ast.Literal{}, errorAt(apperrors.ErrUnbalancedBrackets, sep, "array must be closed with `]` before `)`")
		default:
			return ast.Literal{}, errorAt(apperrors.ErrUnexpectedToken, sep,
				fmt.Sprintf("`,` or `]` expected, got %q", sep.Raw))
		}
	}
}

// stray reports a closing token that has no opener at depth.
func stray(tok lexer.Token, depth int) error {
	switch {
	case tok.Kind == lexer.ArrayEnd:
		return errorAt(apperrors.ErrUnbalancedBrackets, tok, "`]` has no matching `[`")
	case tok.Kind == lexer.GroupEnd && depth == 0:
		return errorAt(apperrors.ErrUnbalancedParentheses, tok, "`)` has no matching `(`")
	}
	return nil
}

func literal(tok lexer.Token) ast.Literal {
	if tok.Kind == lexer.NumericLiteral {
		return ast.Number(tok.Lexeme)
	}
	return ast.String(tok.Lexeme)
}

func (p *parser) atEnd(kind error, message string) error {
	return &apperrors.ParseError{Kind: kind, Pos: p.end, Message: message}
}

func errorAt(kind error, tok lexer.Token, message string) error {
	return &apperrors.ParseError{Kind: kind, Pos: tok.Pos, Message: message}
}

// at stamps a token offset onto parse errors raised by the ast setters.
func at(err error, pos int) error {
	var parseErr *apperrors.ParseError
	if errors.As(err, &parseErr) && parseErr.Pos == 0 {
		parseErr.Pos = pos
	}
	return err
}
