// Package compiler translates a parsed condition tree into boolean query
// buckets. An and-group fills must (negated leaves go to must_not); an
// or-group fills should and gets minimum_should_match 1. Negated leaves inside
// an or-group have no boolean query equivalent and are rejected.
package compiler

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/ast"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

// Clause is one entry of a bucket: a term, terms, range or nested bool.
type Clause map[string]any

// Buckets is the compiled form of one group.
type Buckets struct {
	Must               []Clause `json:"must,omitempty"`
	Filter             []Clause `json:"filter,omitempty"`
	MustNot            []Clause `json:"must_not,omitempty"`
	Should             []Clause `json:"should,omitempty"`
	MinimumShouldMatch *int     `json:"minimum_should_match,omitempty"`
	Boost              *float64 `json:"boost,omitempty"`
}

var clauseKeywords = map[ast.Operator]string{
	ast.OpIn:    "terms",
	ast.OpNotIn: "terms",
	ast.OpEq:    "term",
	ast.OpNeq:   "term",
	ast.OpGt:    "range",
	ast.OpGte:   "range",
	ast.OpLt:    "range",
	ast.OpLte:   "range",
}

var rangeBounds = map[ast.Operator]string{
	ast.OpGt:  "gt",
	ast.OpGte: "gte",
	ast.OpLt:  "lt",
	ast.OpLte: "lte",
}

// Compile translates group. It never modifies the tree, and on error no
// partial result is returned.
func Compile(group *ast.Group) (*Buckets, error) {
	if group == nil {
		return nil, &apperrors.CompileError{Kind: apperrors.ErrMalformedExpression, Message: "nil condition group"}
	}
	return compileGroup(group)
}

func compileGroup(group *ast.Group) (*Buckets, error) {
	conjunction := group.Conjunction()
	if conjunction == ast.NoConjunction {
		if group.Len() > 1 {
			return nil, &apperrors.CompileError{
				Kind:    apperrors.ErrMissingConjunction,
				Message: fmt.Sprintf("group %q has %d items and no conjunction", group, group.Len()),
			}
		}
		conjunction = ast.And
	}

	b := &Buckets{}
	for _, item := range group.Items() {
		switch node := item.(type) {
		case *ast.Expression:
			clause, err := compileExpression(node)
			if err != nil {
				return nil, err
			}
			if node.Operator().Negated() {
				if conjunction == ast.Or {
					return nil, &apperrors.CompileError{
						Kind: apperrors.ErrUnsupportedOrNot,
						Message: fmt.Sprintf("%q inside an or-group has no should_not equivalent; "+
							"rewrite it with parentheses", node),
					}
				}
				b.MustNot = append(b.MustNot, clause)
				continue
			}
			b.add(conjunction, clause)
		case *ast.Group:
			nested, err := compileGroup(node)
			if err != nil {
				return nil, err
			}
			b.add(conjunction, Clause{query.BoolQuery: nested})
		default:
			return nil, &apperrors.CompileError{
				Kind:    apperrors.ErrMalformedExpression,
				Message: fmt.Sprintf("unexpected node %T", item),
			}
		}
	}

	if len(b.Should) > 0 && len(b.Must) == 0 {
		one := 1
		b.MinimumShouldMatch = &one
	}
	return b, nil
}

func compileExpression(expr *ast.Expression) (Clause, error) {
	if !expr.Complete() {
		return nil, &apperrors.CompileError{
			Kind:    apperrors.ErrMalformedExpression,
			Message: fmt.Sprintf("incomplete expression %q", expr),
		}
	}
	keyword := clauseKeywords[expr.Operator()]
	value := expr.Value().Value()
	if bound, ok := rangeBounds[expr.Operator()]; ok {
		return Clause{keyword: map[string]any{expr.Property(): map[string]any{bound: value}}}, nil
	}
	return Clause{keyword: map[string]any{expr.Property(): value}}, nil
}

func (b *Buckets) add(conjunction ast.Conjunction, clause Clause) {
	if conjunction == ast.Or {
		b.Should = append(b.Should, clause)
		return
	}
	b.Must = append(b.Must, clause)
}

// Params flattens the buckets into accumulator params: must, filter,
// must_not and should entries in order, then the scalars.
func (b *Buckets) Params() []query.Param {
	var params []query.Param
	for _, bucket := range []struct {
		key     string
		clauses []Clause
	}{
		{query.Must, b.Must},
		{query.Filter, b.Filter},
		{query.MustNot, b.MustNot},
		{query.Should, b.Should},
	} {
		for _, clause := range bucket.clauses {
			params = append(params, query.Param{Key: bucket.key, Value: clause})
		}
	}
	if b.MinimumShouldMatch != nil {
		params = append(params, query.Param{Key: query.MinimumShouldMatch, Value: *b.MinimumShouldMatch})
	}
	if b.Boost != nil {
		params = append(params, query.Param{Key: query.Boost, Value: *b.Boost})
	}
	return params
}

// Empty reports whether no bucket holds a clause.
func (b *Buckets) Empty() bool {
	return len(b.Must)+len(b.Filter)+len(b.MustNot)+len(b.Should) == 0
}
