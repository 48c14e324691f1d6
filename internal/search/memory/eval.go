package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

// evaluate reports whether doc matches clause and its relevance score.
func evaluate(clause any, doc map[string]any) (bool, float64, error) {
	obj, ok := clause.(map[string]any)
	if !ok || len(obj) != 1 {
		return false, 0, unsupported("query clause must be an object with one key, got %v", clause)
	}
	for name, body := range obj {
		switch name {
		case "match_all":
			return true, 1, nil
		case "match_none":
			return false, 0, nil
		case "bool":
			return evalBool(body, doc)
		case "term":
			return evalTerm(body, doc)
		case "terms":
			return evalTerms(body, doc)
		case "range":
			return evalRange(body, doc)
		case "exists":
			return evalExists(body, doc)
		case "match":
			return evalMatch(body, doc)
		case "multi_match":
			return evalMultiMatch(body, doc)
		default:
			return false, 0, unsupported("unsupported query %q", name)
		}
	}
	return false, 0, nil
}

func evalBool(body any, doc map[string]any) (bool, float64, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return false, 0, unsupported("bool body must be an object")
	}
	var score float64
	for _, key := range []string{"must", "filter"} {
		for _, clause := range clauses(obj[key]) {
			ok, s, err := evaluate(clause, doc)
			if err != nil || !ok {
				return false, 0, err
			}
			if key == "must" {
				score += s
			}
		}
	}
	for _, clause := range clauses(obj["must_not"]) {
		ok, _, err := evaluate(clause, doc)
		if err != nil {
			return false, 0, err
		}
		if ok {
			return false, 0, nil
		}
	}

	should := clauses(obj["should"])
	required := 0
	if len(should) > 0 && len(clauses(obj["must"]))+len(clauses(obj["filter"])) == 0 {
		required = 1
	}
	if v, present := obj["minimum_should_match"]; present {
		n, err := minimumShouldMatch(v, len(should))
		if err != nil {
			return false, 0, err
		}
		required = n
	}
	matched := 0
	for _, clause := range should {
		ok, s, err := evaluate(clause, doc)
		if err != nil {
			return false, 0, err
		}
		if ok {
			matched++
			score += s
		}
	}
	if matched < required {
		return false, 0, nil
	}
	if score == 0 {
		score = 1
	}
	return true, score, nil
}

// minimumShouldMatch accepts an integer, a negative integer (clauses that
// may be missing) or a percentage string.
func minimumShouldMatch(v any, total int) (int, error) {
	text := fmt.Sprint(v)
	if pct, isPct := strings.CutSuffix(text, "%"); isPct {
		p, err := strconv.Atoi(pct)
		if err != nil {
			return 0, unsupported("invalid minimum_should_match %q", text)
		}
		n := total * p / 100
		if p < 0 {
			n = total + n
		}
		return n, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, unsupported("invalid minimum_should_match %q", text)
	}
	if n < 0 {
		n = total + n
	}
	return n, nil
}

func clauses(v any) []any {
	switch c := v.(type) {
	case nil:
		return nil
	case []any:
		return c
	default:
		return []any{c}
	}
}

// fieldBody unpacks {field: body}.
func fieldBody(kind string, body any) (string, any, error) {
	obj, ok := body.(map[string]any)
	if !ok || len(obj) == 0 {
		return "", nil, unsupported("%s body must name a field", kind)
	}
	var field string
	var value any
	found := 0
	for k, v := range obj {
		if k == "boost" || k == "_name" {
			continue
		}
		field, value = k, v
		found++
	}
	if found != 1 {
		return "", nil, unsupported("%s must name exactly one field", kind)
	}
	return field, value, nil
}

func evalTerm(body any, doc map[string]any) (bool, float64, error) {
	field, want, err := fieldBody("term", body)
	if err != nil {
		return false, 0, err
	}
	if obj, ok := want.(map[string]any); ok {
		want = obj["value"]
	}
	for _, got := range lookup(doc, field) {
		if equal(got, want) {
			return true, 1, nil
		}
	}
	return false, 0, nil
}

func evalTerms(body any, doc map[string]any) (bool, float64, error) {
	field, list, err := fieldBody("terms", body)
	if err != nil {
		return false, 0, err
	}
	wants, ok := list.([]any)
	if !ok {
		return false, 0, unsupported("terms on %q expects an array", field)
	}
	for _, got := range lookup(doc, field) {
		for _, want := range wants {
			if equal(got, want) {
				return true, 1, nil
			}
		}
	}
	return false, 0, nil
}

func evalRange(body any, doc map[string]any) (bool, float64, error) {
	field, boundsBody, err := fieldBody("range", body)
	if err != nil {
		return false, 0, err
	}
	bounds, ok := boundsBody.(map[string]any)
	if !ok {
		return false, 0, unsupported("range on %q expects an object", field)
	}
	for _, got := range lookup(doc, field) {
		if inRange(got, bounds) {
			return true, 1, nil
		}
	}
	return false, 0, nil
}

func inRange(got any, bounds map[string]any) bool {
	for op, bound := range bounds {
		c, comparable := compare(got, bound)
		if !comparable {
			return false
		}
		switch op {
		case "gt":
			if c <= 0 {
				return false
			}
		case "gte":
			if c < 0 {
				return false
			}
		case "lt":
			if c >= 0 {
				return false
			}
		case "lte":
			if c > 0 {
				return false
			}
		}
	}
	return true
}

func evalExists(body any, doc map[string]any) (bool, float64, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return false, 0, unsupported("exists body must be an object")
	}
	field, _ := obj["field"].(string)
	for _, v := range lookup(doc, field) {
		if v != nil {
			return true, 1, nil
		}
	}
	return false, 0, nil
}

func evalMatch(body any, doc map[string]any) (bool, float64, error) {
	field, query, err := fieldBody("match", body)
	if err != nil {
		return false, 0, err
	}
	operator := "or"
	if obj, ok := query.(map[string]any); ok {
		query = obj["query"]
		if op, ok := obj["operator"].(string); ok {
			operator = strings.ToLower(op)
		}
	}
	score := matchText(fmt.Sprint(query), operator, fieldText(doc, field))
	return score > 0, score, nil
}

func evalMultiMatch(body any, doc map[string]any) (bool, float64, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return false, 0, unsupported("multi_match body must be an object")
	}
	query := fmt.Sprint(obj["query"])
	operator := "or"
	if op, ok := obj["operator"].(string); ok {
		operator = strings.ToLower(op)
	}
	fields := clauses(obj["fields"])
	if len(fields) == 0 {
		fields = []any{"_all"}
	}
	var best float64
	for _, f := range fields {
		name, _, _ := strings.Cut(fmt.Sprint(f), "^")
		best = max(best, matchText(query, operator, fieldText(doc, name)))
	}
	return best > 0, best, nil
}

// matchText scores text against the analyzed query terms: one point per
// distinct matching term. With operator "and" every term must match.
func matchText(query, operator, text string) float64 {
	queryTerms := analyze(query)
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, term := range analyze(text) {
		present[term] = struct{}{}
	}
	seen := make(map[string]struct{}, len(queryTerms))
	var hits float64
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if _, ok := present[term]; ok {
			hits++
		} else if operator == "and" {
			return 0
		}
	}
	return hits
}

// fieldText joins the string values of field. "_all" and "*" cover every
// string in the document.
func fieldText(doc map[string]any, field string) string {
	var values []any
	if field == "_all" || field == "*" {
		values = allValues(doc)
	} else {
		values = lookup(doc, field)
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		switch s := v.(type) {
		case string:
			parts = append(parts, s)
		case json.Number:
			parts = append(parts, s.String())
		}
	}
	return strings.Join(parts, " ")
}

func allValues(v any) []any {
	switch t := v.(type) {
	case map[string]any:
		var out []any
		for _, child := range t {
			out = append(out, allValues(child)...)
		}
		return out
	case []any:
		var out []any
		for _, child := range t {
			out = append(out, allValues(child)...)
		}
		return out
	default:
		return []any{t}
	}
}

// lookup resolves a dotted path, flattening arrays along the way.
func lookup(doc map[string]any, path string) []any {
	if v, ok := doc[path]; ok {
		return flatten(v)
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return nil
	}
	var out []any
	for _, v := range flatten(doc[head]) {
		if child, ok := v.(map[string]any); ok {
			out = append(out, lookup(child, rest)...)
		}
	}
	return out
}

func flatten(v any) []any {
	if list, ok := v.([]any); ok {
		var out []any
		for _, item := range list {
			out = append(out, flatten(item)...)
		}
		return out
	}
	if v == nil {
		return nil
	}
	return []any{v}
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

func equal(got, want any) bool {
	if c, ok := compare(got, want); ok {
		return c == 0
	}
	return false
}

// compare orders two scalars: numerically when both sides read as numbers,
// as strings otherwise.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, okA := number(a); okA {
		if y, okB := number(b); okB {
			return compareFloat(x, y), true
		}
	}
	if _, isMap := a.(map[string]any); isMap {
		return 0, false
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

// compareSortValues places missing values last.
func compareSortValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, _ := compare(a, b)
	return c
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}
