// Package builder runs the full condition pipeline: text is parsed,
// compiled, and the resulting clauses are appended to a query accumulator.
package builder

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/compiler"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/parser"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/query"
)

// Compile parses and compiles condition. A blank condition yields empty
// buckets.
func Compile(condition string) (*compiler.Buckets, error) {
	if strings.TrimSpace(condition) == "" {
		return &compiler.Buckets{}, nil
	}
	group, err := parser.Parse(condition)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(group)
}

// Build compiles condition and appends every clause to q. Nothing is
// appended when compilation fails.
func Build(q *query.Query, condition string) error {
	buckets, err := Compile(condition)
	if err != nil {
		return err
	}
	return q.AppendAll(buckets.Params())
}

// Document compiles condition into a standalone query document.
func Document(condition string) (map[string]any, error) {
	q := query.New()
	if err := Build(q, condition); err != nil {
		return nil, err
	}
	return q.Build(), nil
}
