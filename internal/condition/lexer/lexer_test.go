package lexer

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

func kinds(tokens []Token) []Kind {
	out := make([]Kind, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Kind
	}
	return out
}

func equalKinds(a, b []Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSignificantKinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Kind
	}{
		{"equality", "a = 1", []Kind{Identifier, Eq, NumericLiteral}},
		{"compact equality", "a=1", []Kind{Identifier, Eq, NumericLiteral}},
		{"not equal compact", "a!=1", []Kind{Identifier, Neq, NumericLiteral}},
		{"range operators", "a >= 1 and b <= 2 or c > 3 or d < 4",
			[]Kind{Identifier, Gte, NumericLiteral, And, Identifier, Lte, NumericLiteral, Or,
				Identifier, Gt, NumericLiteral, Or, Identifier, Lt, NumericLiteral}},
		{"in array", "a in [1,2,'x']",
			[]Kind{Identifier, In, ArrayStart, NumericLiteral, ArraySeparator, NumericLiteral,
				ArraySeparator, StringLiteral, ArrayEnd}},
		{"not in", "a not in [1]", []Kind{Identifier, NotIn, ArrayStart, NumericLiteral, ArrayEnd}},
		{"not in wide gap", "a NOT   IN [1]", []Kind{Identifier, NotIn, ArrayStart, NumericLiteral, ArrayEnd}},
		{"groups", "(a=1 OR b=2) And c=3",
			[]Kind{GroupStart, Identifier, Eq, NumericLiteral, Or, Identifier, Eq, NumericLiteral,
				GroupEnd, And, Identifier, Eq, NumericLiteral}},
		{"keyword prefix is identifier", "android = 1 and order = 2 and index = 3",
			[]Kind{Identifier, Eq, NumericLiteral, And, Identifier, Eq, NumericLiteral, And,
				Identifier, Eq, NumericLiteral}},
		{"digits then letters is identifier", "a = 12ab", []Kind{Identifier, Eq, Identifier}},
		{"dotted identifier", "user.age > 18", []Kind{Identifier, Gt, NumericLiteral}},
		{"keyword before bracket", "a in[1]", []Kind{Identifier, In, ArrayStart, NumericLiteral, ArrayEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := Significant(tt.input)
			if err != nil {
				t.Fatalf("Significant(%q) error: %v", tt.input, err)
			}
			if got := kinds(tokens); !equalKinds(got, tt.want) {
				t.Errorf("Significant(%q) kinds = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTokenizeKeepsSeparators(t *testing.T) {
	tokens, err := Tokenize("a  =\t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Kind{Identifier, Separator, Eq, Separator, NumericLiteral}
	if got := kinds(tokens); !equalKinds(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	if tokens[1].Lexeme != "  " {
		t.Errorf("separator lexeme = %q, want two spaces", tokens[1].Lexeme)
	}
}

func TestStringLiterals(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello world"`, "hello world"},
		{`'single'`, "single"},
		{`"say \"hi\""`, `say "hi"`},
		{`'it\'s'`, "it's"},
		{`"a\b"`, `a\b`},
		{`""`, ""},
		{`"(a = 1)"`, "(a = 1)"},
		{`'mixed "quotes"'`, `mixed "quotes"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens, err := Tokenize(tt.input)
			if err != nil {
				t.Fatalf("Tokenize(%s) error: %v", tt.input, err)
			}
			if len(tokens) != 1 || tokens[0].Kind != StringLiteral {
				t.Fatalf("Tokenize(%s) = %v, want one string literal", tt.input, tokens)
			}
			if tokens[0].Lexeme != tt.want {
				t.Errorf("lexeme = %q, want %q", tokens[0].Lexeme, tt.want)
			}
			if tokens[0].Raw != tt.input {
				t.Errorf("raw = %q, want %q", tokens[0].Raw, tt.input)
			}
		})
	}
}

func TestKeywordLexemesAreNormalized(t *testing.T) {
	tokens, err := Significant("a NOT\tIN [1] AND b = 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[1].Lexeme != "not in" || tokens[1].Raw != "NOT\tIN" {
		t.Errorf("not in token = %+v", tokens[1])
	}
	if tokens[5].Lexeme != "and" {
		t.Errorf("and lexeme = %q", tokens[5].Lexeme)
	}
}

func TestTokenPositions(t *testing.T) {
	input := "ab = 'x' or c in [1]"
	tokens, err := Tokenize(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tok := range tokens {
		if input[tok.Pos:tok.Pos+len(tok.Raw)] != tok.Raw {
			t.Errorf("token %v does not match source at offset %d", tok, tok.Pos)
		}
	}
}

func TestReconstructsNonWhitespace(t *testing.T) {
	inputs := []string{
		"a = 1 and b = 2",
		"(a=1 or b=2) and c=3",
		"status not in ['draft','deleted'] and  views >= 100",
		"  x!=\"y\"\n",
	}
	for _, input := range inputs {
		tokens, err := Significant(input)
		if err != nil {
			t.Fatalf("Significant(%q) error: %v", input, err)
		}
		var sb strings.Builder
		for _, tok := range tokens {
			sb.WriteString(strings.Join(strings.Fields(tok.Raw), ""))
		}
		want := strings.Join(strings.Fields(input), "")
		if sb.String() != want {
			t.Errorf("reconstructed %q, want %q", sb.String(), want)
		}
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		input string
		pos   int
	}{
		{"a ! 1", 2},
		{`a = "unterminated`, 4},
		{"a = 'x", 4},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			if err == nil {
				t.Fatalf("Tokenize(%q) expected error", tt.input)
			}
			var lexErr *apperrors.LexError
			if !errors.As(err, &lexErr) {
				t.Fatalf("error type = %T, want *LexError", err)
			}
			if lexErr.Pos != tt.pos {
				t.Errorf("Pos = %d, want %d", lexErr.Pos, tt.pos)
			}
			if !errors.Is(err, apperrors.ErrUnrecognizedInput) || !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("error %v does not wrap expected sentinels", err)
			}
		})
	}
}

func BenchmarkTokenize(b *testing.B) {
	input := strings.Repeat("(status in ['a','b'] or views >= 100) and author != \"x\" and ", 20) + "id = 1"
	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	for i := 0; i < b.N; i++ {
		if _, err := Tokenize(input); err != nil {
			b.Fatal(err)
		}
	}
}
