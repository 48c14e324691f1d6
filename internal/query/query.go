// Package query accumulates the parameters of one search query and renders
// them as a query document. A Query belongs to a single build session: it is
// filled with SetParam/AppendParam, rendered once with Build and then Reset
// before reuse. It is not safe for concurrent use.
package query

import (
	"slices"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

// Boolean query keys.
const (
	Must               = "must"
	Filter             = "filter"
	MustNot            = "must_not"
	Should             = "should"
	MinimumShouldMatch = "minimum_should_match"
	Boost              = "boost"
)

// Query shape names.
const (
	BoolQuery     = "bool"
	MatchAllQuery = "match_all"
)

var bucketKeys = []string{Must, Filter, MustNot, Should}

var scalarKeys = []string{MinimumShouldMatch, Boost}

// Param is one key/value pair in insertion order.
type Param struct {
	Key   string
	Value any
}

// Query is a mutable boolean query accumulator.
type Query struct {
	buckets   map[string][]any
	scalars   map[string]any
	leaves    []Param
	exclusive bool
}

// New returns an empty Query.
func New() *Query {
	q := &Query{}
	q.Reset()
	return q
}

// AllowedKeys lists the keys accepted by AppendParam.
func (q *Query) AllowedKeys() []string {
	return append(slices.Clone(bucketKeys), scalarKeys...)
}

// SetParam sets a leaf query shape such as match or multi_match. match_all is
// exclusive: it cannot be combined with any other key.
func (q *Query) SetParam(key string, value any) error {
	if key == "" || q.isAllowed(key) || key == BoolQuery {
		return &apperrors.QueryError{Kind: apperrors.ErrInvalidKey, Key: key}
	}
	if q.exclusive {
		return &apperrors.QueryError{Kind: apperrors.ErrInvalidState, Key: key}
	}
	if key == MatchAllQuery {
		if !q.empty() {
			return &apperrors.QueryError{Kind: apperrors.ErrInvalidState, Key: key}
		}
		q.exclusive = true
	}
	for i, leaf := range q.leaves {
		if leaf.Key == key {
			q.leaves[i].Value = value
			return nil
		}
	}
	q.leaves = append(q.leaves, Param{Key: key, Value: value})
	return nil
}

// AppendParam adds value under a boolean key. Bucket keys accumulate in
// order; scalar keys keep the latest value.
func (q *Query) AppendParam(key string, value any) error {
	if !q.isAllowed(key) {
		return &apperrors.QueryError{Kind: apperrors.ErrInvalidKey, Key: key}
	}
	if q.exclusive {
		return &apperrors.QueryError{Kind: apperrors.ErrInvalidState, Key: key}
	}
	if slices.Contains(scalarKeys, key) {
		q.scalars[key] = value
		return nil
	}
	q.buckets[key] = append(q.buckets[key], value)
	return nil
}

// AppendAll appends params in order, stopping at the first error.
func (q *Query) AppendAll(params []Param) error {
	for _, p := range params {
		if err := q.AppendParam(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// Build renders the accumulated state. An empty query renders as
// {"match_all": {}}; a single leaf renders as itself; anything else renders
// as a bool query with leaves prepended to must.
func (q *Query) Build() map[string]any {
	if q.empty() {
		return map[string]any{MatchAllQuery: map[string]any{}}
	}
	if len(q.leaves) == 1 && len(q.buckets) == 0 && len(q.scalars) == 0 {
		leaf := q.leaves[0]
		return map[string]any{leaf.Key: leaf.Value}
	}

	body := make(map[string]any, len(q.buckets)+len(q.scalars))
	must := make([]any, 0, len(q.leaves)+len(q.buckets[Must]))
	for _, leaf := range q.leaves {
		must = append(must, map[string]any{leaf.Key: leaf.Value})
	}
	must = append(must, q.buckets[Must]...)
	if len(must) > 0 {
		body[Must] = must
	}
	for _, key := range bucketKeys {
		if key == Must || len(q.buckets[key]) == 0 {
			continue
		}
		body[key] = slices.Clone(q.buckets[key])
	}
	for key, value := range q.scalars {
		body[key] = value
	}
	return map[string]any{BoolQuery: body}
}

// Reset clears every key and the exclusive marker.
func (q *Query) Reset() {
	q.buckets = make(map[string][]any)
	q.scalars = make(map[string]any)
	q.leaves = nil
	q.exclusive = false
}

// Empty reports whether nothing has been set since the last Reset.
func (q *Query) Empty() bool {
	return q.empty()
}

func (q *Query) empty() bool {
	return len(q.buckets) == 0 && len(q.scalars) == 0 && len(q.leaves) == 0
}

func (q *Query) isAllowed(key string) bool {
	return slices.Contains(bucketKeys, key) || slices.Contains(scalarKeys, key)
}
