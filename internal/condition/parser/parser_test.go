package parser

import (
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/condition/ast"
	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

func TestParseSimpleAnd(t *testing.T) {
	group, err := Parse("a = 1 and b = 2")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if group.Conjunction() != ast.And {
		t.Fatalf("conjunction = %v, want and", group.Conjunction())
	}
	items := group.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	want := []struct {
		prop  string
		value string
	}{{"a", "1"}, {"b", "2"}}
	for i, item := range items {
		expr, ok := item.(*ast.Expression)
		if !ok {
			t.Fatalf("item %d is %T, want *ast.Expression", i, item)
		}
		if expr.Property() != want[i].prop || expr.Operator() != ast.OpEq {
			t.Errorf("item %d = %s", i, expr)
		}
		if v := expr.Value(); v.Kind != ast.NumberLiteral || v.Text != want[i].value {
			t.Errorf("item %d value = %+v", i, v)
		}
	}
}

func TestParseShapes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a = 1", "a = 1"},
		{"a != 'x'", `a != "x"`},
		{"a in [1, 2, 3]", "a in [1, 2, 3]"},
		{"a NOT IN ['x', \"y\"]", `a not in ["x", "y"]`},
		{"a = 1 or b = 2 or c = 3", "a = 1 or b = 2 or c = 3"},
		{"(a=1 or b=2) and c=3", "(a = 1 or b = 2) and c = 3"},
		{"((a = 1))", "((a = 1))"},
		{"a > 1 and (b < 2 or (c >= 3 and d <= 4))", "a > 1 and (b < 2 or (c >= 3 and d <= 4))"},
		{"a in [[1, 2], 3]", "a in [[1, 2], 3]"},
		{"  a   =   1  ", "a = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			group, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got := group.String(); got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSingletonGroupDefaultsToAnd(t *testing.T) {
	for _, input := range []string{"a = 1", "(a = 1)", "a != 1"} {
		group, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", input, err)
		}
		if group.Conjunction() != ast.And {
			t.Errorf("Parse(%q) conjunction = %v, want and", input, group.Conjunction())
		}
	}

	group, err := Parse("(a = 1) or b = 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nested, ok := group.Items()[0].(*ast.Group)
	if !ok {
		t.Fatalf("first item is %T, want *ast.Group", group.Items()[0])
	}
	if nested.Conjunction() != ast.And {
		t.Errorf("nested singleton conjunction = %v, want and", nested.Conjunction())
	}
}

func TestRepeatedConjunctionIsAllowed(t *testing.T) {
	group, err := Parse("a = 1 or b = 2 or c = 3 or d = 4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.Conjunction() != ast.Or || group.Len() != 4 {
		t.Errorf("group = %s (%v, %d items)", group, group.Conjunction(), group.Len())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  error
		pos   int
	}{
		{"a = 1 and", apperrors.ErrUnbalancedParentheses, 9},
		{"(a=1", apperrors.ErrUnbalancedParentheses, 4},
		{"a = 1)", apperrors.ErrUnbalancedParentheses, 5},
		{"((a = 1)", apperrors.ErrUnbalancedParentheses, 8},
		{"", apperrors.ErrUnbalancedParentheses, 0},
		{"a", apperrors.ErrUnbalancedParentheses, 1},
		{"a =", apperrors.ErrUnbalancedParentheses, 3},
		{"a in [1, 2", apperrors.ErrUnbalancedBrackets, 10},
		{"a in [1", apperrors.ErrUnbalancedBrackets, 7},
		{"a = 1 ]", apperrors.ErrUnbalancedBrackets, 6},
		{"a in ]", apperrors.ErrUnbalancedBrackets, 5},
		{"(a in [1, 2)", apperrors.ErrUnbalancedBrackets, 11},
		{"a ]", apperrors.ErrUnbalancedBrackets, 2},
		{"a = 1 and b ]", apperrors.ErrUnbalancedBrackets, 12},
		{"a )", apperrors.ErrUnbalancedParentheses, 2},
		{"a = )", apperrors.ErrUnbalancedParentheses, 4},
		{"a = 1 and b = 2 or c = 3", apperrors.ErrMixedConjunction, 16},
		{"a = 1 or b = 2 and c = 3", apperrors.ErrMixedConjunction, 15},
		{"a = 1 b = 2", apperrors.ErrMissingConjunction, 6},
		{"(a = 1) (b = 2)", apperrors.ErrMissingConjunction, 8},
		{"a in 1", apperrors.ErrTypeMismatch, 5},
		{"a not in 'x'", apperrors.ErrTypeMismatch, 9},
		{"a = [1, 2]", apperrors.ErrTypeMismatch, 4},
		{"a > [1]", apperrors.ErrTypeMismatch, 4},
		{"and a = 1", apperrors.ErrUnexpectedToken, 0},
		{"a = 1 and or b = 2", apperrors.ErrUnexpectedToken, 10},
		{"()", apperrors.ErrUnexpectedToken, 1},
		{"(a = 1 and)", apperrors.ErrUnexpectedToken, 10},
		{"a b", apperrors.ErrUnexpectedToken, 2},
		{"(a )", apperrors.ErrUnexpectedToken, 3},
		{"(a = )", apperrors.ErrUnexpectedToken, 5},
		{"a = b", apperrors.ErrUnexpectedToken, 4},
		{"a in []", apperrors.ErrUnexpectedToken, 6},
		{"a in [1,]", apperrors.ErrUnexpectedToken, 8},
		{"a in [1 2]", apperrors.ErrUnexpectedToken, 8},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.input)
			}
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Parse(%q) error = %v, want kind %v", tt.input, err, tt.kind)
			}
			var parseErr *apperrors.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error type = %T, want *ParseError", err)
			}
			if parseErr.Pos != tt.pos {
				t.Errorf("Parse(%q) Pos = %d, want %d", tt.input, parseErr.Pos, tt.pos)
			}
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("error does not wrap ErrInvalidInput")
			}
		})
	}
}

func TestMalformedExpressions(t *testing.T) {
	inputs := []string{
		"= 1",
		"'x' = 1",
		"1 = a",
		"[1] = a",
		"a 'x'",
		"a [1]",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if !errors.Is(err, apperrors.ErrMalformedExpression) {
				t.Fatalf("Parse(%q) error = %v, want malformed expression", input, err)
			}
			var compileErr *apperrors.CompileError
			if !errors.As(err, &compileErr) {
				t.Errorf("error type = %T, want *CompileError", err)
			}
		})
	}
}

func TestLexErrorsPropagate(t *testing.T) {
	_, err := Parse("a = 'open")
	var lexErr *apperrors.LexError
	if !errors.As(err, &lexErr) {
		t.Fatalf("error = %v, want *LexError", err)
	}
}

func BenchmarkParse(b *testing.B) {
	input := "(status in ['published', 'archived'] or featured = 1) and views >= 100 and author != 'bot'"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(input); err != nil {
			b.Fatal(err)
		}
	}
}
