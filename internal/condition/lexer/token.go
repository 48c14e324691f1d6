package lexer

// Kind classifies a token of the condition language.
type Kind int

const (
	And Kind = iota
	Or
	In
	NotIn
	Eq
	Neq
	Gt
	Gte
	Lt
	Lte
	GroupStart
	GroupEnd
	ArrayStart
	ArrayEnd
	ArraySeparator
	Separator
	StringLiteral
	NumericLiteral
	Identifier
)

var kindNames = [...]string{
	And:            "AND",
	Or:             "OR",
	In:             "IN",
	NotIn:          "NOT_IN",
	Eq:             "EQ",
	Neq:            "NEQ",
	Gt:             "GT",
	Gte:            "GTE",
	Lt:             "LT",
	Lte:            "LTE",
	GroupStart:     "GROUP_START",
	GroupEnd:       "GROUP_END",
	ArrayStart:     "ARRAY_START",
	ArrayEnd:       "ARRAY_END",
	ArraySeparator: "ARRAY_SEPARATOR",
	Separator:      "SEPARATOR",
	StringLiteral:  "STRING",
	NumericLiteral: "NUMBER",
	Identifier:     "IDENTIFIER",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// IsConjunction reports whether k joins sibling items.
func (k Kind) IsConjunction() bool {
	return k == And || k == Or
}

// IsOperator reports whether k is a comparison operator.
func (k Kind) IsOperator() bool {
	return k >= In && k <= Lte
}

// IsLiteral reports whether k is a scalar value.
func (k Kind) IsLiteral() bool {
	return k == StringLiteral || k == NumericLiteral
}

// Token is a single lexeme. For string literals Lexeme holds the unquoted
// text while Raw keeps the source slice including quotes.
type Token struct {
	Kind   Kind
	Lexeme string
	Raw    string
	Pos    int
}

func (t Token) String() string {
	return t.Kind.String() + "(" + t.Raw + ")"
}
