// Package ast defines the condition tree produced by the parser: groups of
// expressions joined by a single conjunction.
package ast

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

// Operator is a comparison operator of an Expression.
type Operator int

const (
	OpIn Operator = iota
	OpNotIn
	OpEq
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
)

var operatorSymbols = [...]string{
	OpIn:    "in",
	OpNotIn: "not in",
	OpEq:    "=",
	OpNeq:   "!=",
	OpGt:    ">",
	OpGte:   ">=",
	OpLt:    "<",
	OpLte:   "<=",
}

func (o Operator) String() string {
	if o >= 0 && int(o) < len(operatorSymbols) {
		return operatorSymbols[o]
	}
	return "?"
}

// Negated reports whether the operator excludes matches rather than
// requiring them.
func (o Operator) Negated() bool {
	return o == OpNeq || o == OpNotIn
}

// TakesList reports whether the operator expects a list value.
func (o Operator) TakesList() bool {
	return o == OpIn || o == OpNotIn
}

// Conjunction joins the items of a Group.
type Conjunction int

const (
	NoConjunction Conjunction = iota
	And
	Or
)

func (c Conjunction) String() string {
	switch c {
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return ""
	}
}

// LiteralKind tags the variant held by a Literal.
type LiteralKind int

const (
	StringLiteral LiteralKind = iota
	NumberLiteral
	ListLiteral
)

// Literal is a string, a number (kept as its source digits) or a list of
// literals.
type Literal struct {
	Kind  LiteralKind
	Text  string
	Items []Literal
}

func String(text string) Literal { return Literal{Kind: StringLiteral, Text: text} }

func Number(text string) Literal { return Literal{Kind: NumberLiteral, Text: text} }

func List(items ...Literal) Literal { return Literal{Kind: ListLiteral, Items: items} }

// IsList reports whether the literal is a list.
func (l Literal) IsList() bool {
	return l.Kind == ListLiteral
}

// Value converts the literal into its JSON value: numbers become
// json.Number so they serialise without quotes. Digit runs with a leading
// zero, such as 007, stay strings so they still match keyword values.
func (l Literal) Value() any {
	switch l.Kind {
	case NumberLiteral:
		if len(l.Text) > 1 && l.Text[0] == '0' {
			return l.Text
		}
		return json.Number(l.Text)
	case ListLiteral:
		values := make([]any, len(l.Items))
		for i, item := range l.Items {
			values[i] = item.Value()
		}
		return values
	default:
		return l.Text
	}
}

func (l Literal) String() string {
	switch l.Kind {
	case NumberLiteral:
		return l.Text
	case ListLiteral:
		parts := make([]string, len(l.Items))
		for i, item := range l.Items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%q", l.Text)
	}
}

// Node is either an *Expression or a *Group.
type Node interface {
	node()
	String() string
}

// Expression is a single comparison. Its parts must be assigned in order:
// property, operator, value.
type Expression struct {
	property    string
	operator    Operator
	value       Literal
	hasProperty bool
	hasOperator bool
	hasValue    bool
}

func (*Expression) node() {}

// NewExpression builds a complete expression, applying the same checks as the
// individual setters.
func NewExpression(property string, op Operator, value Literal) (*Expression, error) {
	e := &Expression{}
	if err := e.SetProperty(property); err != nil {
		return nil, err
	}
	if err := e.SetOperator(op); err != nil {
		return nil, err
	}
	if err := e.SetValue(value); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Expression) SetProperty(property string) error {
	if property == "" {
		return malformed("property name must not be empty")
	}
	if e.hasOperator || e.hasValue {
		return malformed("property %q assigned after operator or value", property)
	}
	e.property = property
	e.hasProperty = true
	return nil
}

func (e *Expression) SetOperator(op Operator) error {
	if !e.hasProperty {
		return malformed("property name expected before operator %q", op)
	}
	if e.hasValue {
		return malformed("operator %q assigned after value", op)
	}
	e.operator = op
	e.hasOperator = true
	return nil
}

// SetValue assigns the value. Lists are accepted only for in / not in, and
// those operators accept nothing else.
func (e *Expression) SetValue(value Literal) error {
	if !e.hasProperty {
		return malformed("property name expected before value %s", value)
	}
	if !e.hasOperator {
		return malformed("comparison operator expected before value %s", value)
	}
	if e.operator.TakesList() && !value.IsList() {
		return &apperrors.ParseError{
			Kind:    apperrors.ErrTypeMismatch,
			Message: fmt.Sprintf("array expected after %q, got %s", e.operator, value),
		}
	}
	if !e.operator.TakesList() && value.IsList() {
		return &apperrors.ParseError{
			Kind:    apperrors.ErrTypeMismatch,
			Message: fmt.Sprintf("array is only allowed after in / not in, got %q", e.operator),
		}
	}
	e.value = value
	e.hasValue = true
	return nil
}

func (e *Expression) Property() string   { return e.property }
func (e *Expression) Operator() Operator { return e.operator }
func (e *Expression) Value() Literal     { return e.value }

// Complete reports whether property, operator and value are all set.
func (e *Expression) Complete() bool {
	return e.hasProperty && e.hasOperator && e.hasValue
}

func (e *Expression) String() string {
	return fmt.Sprintf("%s %s %s", e.property, e.operator, e.value)
}

// Group is an ordered list of items joined by one conjunction.
type Group struct {
	conjunction Conjunction
	items       []Node
}

func (*Group) node() {}

// NewGroup returns an empty group with no conjunction.
func NewGroup() *Group {
	return &Group{}
}

// AddItem appends an expression or nested group.
func (g *Group) AddItem(item Node) {
	g.items = append(g.items, item)
}

// SetConjunction records the group's conjunction. Repeating the same
// conjunction is allowed; switching between and/or is not.
func (g *Group) SetConjunction(c Conjunction) error {
	if c != And && c != Or {
		return &apperrors.ParseError{
			Kind:    apperrors.ErrUnexpectedToken,
			Message: "conjunction must be and / or",
		}
	}
	if len(g.items) == 0 {
		return &apperrors.ParseError{
			Kind:    apperrors.ErrUnexpectedToken,
			Message: fmt.Sprintf("first operand is missing for %q", c),
		}
	}
	if g.conjunction != NoConjunction && g.conjunction != c {
		return &apperrors.ParseError{
			Kind:    apperrors.ErrMixedConjunction,
			Message: fmt.Sprintf("%q mixed with %q without parentheses", c, g.conjunction),
		}
	}
	g.conjunction = c
	return nil
}

// Finalize closes the group. A single item without a conjunction becomes an
// and-group; several items without one are rejected.
func (g *Group) Finalize() error {
	if g.conjunction != NoConjunction {
		return nil
	}
	if len(g.items) > 1 {
		return &apperrors.ParseError{
			Kind:    apperrors.ErrMissingConjunction,
			Message: fmt.Sprintf("%d items without a logical operator between them", len(g.items)),
		}
	}
	g.conjunction = And
	return nil
}

func (g *Group) Conjunction() Conjunction { return g.conjunction }

// Items returns a copy of the group's items.
func (g *Group) Items() []Node {
	items := make([]Node, len(g.items))
	copy(items, g.items)
	return items
}

func (g *Group) Len() int { return len(g.items) }

func (g *Group) String() string {
	parts := make([]string, len(g.items))
	for i, item := range g.items {
		if sub, ok := item.(*Group); ok {
			parts[i] = "(" + sub.String() + ")"
			continue
		}
		parts[i] = item.String()
	}
	sep := " " + g.conjunction.String() + " "
	if g.conjunction == NoConjunction {
		sep = " "
	}
	return strings.Join(parts, sep)
}

func malformed(format string, args ...any) error {
	return &apperrors.CompileError{
		Kind:    apperrors.ErrMalformedExpression,
		Message: fmt.Sprintf(format, args...),
	}
}
