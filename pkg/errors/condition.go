package errors

import (
	"errors"
	"fmt"
)

// Condition language error kinds. Every typed error below unwraps to exactly
// one of these and to ErrInvalidInput.
var (
	ErrUnrecognizedInput     = errors.New("unrecognized input")
	ErrUnbalancedParentheses = errors.New("unbalanced parentheses")
	ErrUnbalancedBrackets    = errors.New("unbalanced brackets")
	ErrMixedConjunction      = errors.New("mixed conjunction")
	ErrMissingConjunction    = errors.New("missing conjunction")
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrUnexpectedToken       = errors.New("unexpected token")
	ErrUnsupportedOrNot      = errors.New("unsupported or not")
	ErrMalformedExpression   = errors.New("malformed expression")
	ErrInvalidKey            = errors.New("invalid query key")
	ErrInvalidState          = errors.New("invalid query state")
)

var kindNames = map[error]string{
	ErrUnrecognizedInput:     "unrecognized_input",
	ErrUnbalancedParentheses: "unbalanced_parentheses",
	ErrUnbalancedBrackets:    "unbalanced_brackets",
	ErrMixedConjunction:      "mixed_conjunction",
	ErrMissingConjunction:    "missing_conjunction",
	ErrTypeMismatch:          "type_mismatch",
	ErrUnexpectedToken:       "unexpected_token",
	ErrUnsupportedOrNot:      "unsupported_or_not",
	ErrMalformedExpression:   "malformed_expression",
	ErrInvalidKey:            "invalid_key",
	ErrInvalidState:          "invalid_state",
}

// LexError reports a position in the condition text that matches no token
// pattern.
type LexError struct {
	Pos  int
	Text string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("condition lexing failed at offset %d: unrecognized input %q", e.Pos, e.Text)
}

func (e *LexError) Unwrap() []error {
	return []error{ErrUnrecognizedInput, ErrInvalidInput}
}

// ParseError reports a grammar violation. Pos is the byte offset of the
// offending token, or the input length when input ended early.
type ParseError struct {
	Kind    error
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition parsing failed at offset %d: %s: %s", e.Pos, e.Kind, e.Message)
}

func (e *ParseError) Unwrap() []error {
	return []error{e.Kind, ErrInvalidInput}
}

// CompileError reports a condition tree that cannot be expressed as a
// boolean query.
type CompileError struct {
	Kind    error
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("condition compilation failed: %s: %s", e.Kind, e.Message)
}

func (e *CompileError) Unwrap() []error {
	return []error{e.Kind, ErrInvalidInput}
}

// QueryError is returned by the query accumulator for rejected keys and
// illegal key combinations.
type QueryError struct {
	Kind error
	Key  string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Key)
}

func (e *QueryError) Unwrap() []error {
	return []error{e.Kind, ErrInvalidInput}
}

// Kind returns the snake_case name of the condition error kind wrapped by
// err, or an empty string when err carries none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, name := range kindNames {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return ""
}

// Position returns the byte offset recorded by a lex or parse error.
func Position(err error) (int, bool) {
	var lexErr *LexError
	if errors.As(err, &lexErr) {
		return lexErr.Pos, true
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Pos, true
	}
	return 0, false
}
