// Package lexer splits condition text into typed tokens. At every offset all
// token patterns are tried and the longest match wins; on equal length the
// keyword and operator patterns beat identifiers, and numbers beat
// identifiers. Keywords (and, or, in, not in) are matched case-insensitively
// and only as whole words.
package lexer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/condition-search/pkg/errors"
)

type match struct {
	kind   Kind
	length int
	lexeme string
}

type matcher func(text string, pos int) (match, bool)

// Ordered by tie-break priority.
var matchers = []matcher{
	matchKeyword,
	matchOperator,
	matchPunctuation,
	matchSeparator,
	matchString,
	matchNumber,
	matchIdentifier,
}

var keywords = []struct {
	words []string
	kind  Kind
}{
	{[]string{"not", "in"}, NotIn},
	{[]string{"and"}, And},
	{[]string{"or"}, Or},
	{[]string{"in"}, In},
}

var operators = []struct {
	symbol string
	kind   Kind
}{
	{"!=", Neq},
	{">=", Gte},
	{"<=", Lte},
	{"=", Eq},
	{">", Gt},
	{"<", Lt},
}

var punctuation = map[byte]Kind{
	'(': GroupStart,
	')': GroupEnd,
	'[': ArrayStart,
	']': ArrayEnd,
	',': ArraySeparator,
}

// Tokenize converts text into tokens, separators included. It fails with a
// *errors.LexError at the first offset no pattern matches.
func Tokenize(text string) ([]Token, error) {
	tokens := make([]Token, 0, len(text)/2)
	pos := 0
	for pos < len(text) {
		best, ok := longestMatch(text, pos)
		if !ok {
			return nil, &apperrors.LexError{Pos: pos, Text: unmatchedRun(text, pos)}
		}
		tokens = append(tokens, Token{
			Kind:   best.kind,
			Lexeme: best.lexeme,
			Raw:    text[pos : pos+best.length],
			Pos:    pos,
		})
		pos += best.length
	}
	return tokens, nil
}

// Significant tokenizes text and drops separators.
func Significant(text string) ([]Token, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	out := tokens[:0]
	for _, tok := range tokens {
		if tok.Kind != Separator {
			out = append(out, tok)
		}
	}
	return out, nil
}

func longestMatch(text string, pos int) (match, bool) {
	var best match
	found := false
	for _, m := range matchers {
		candidate, ok := m(text, pos)
		if !ok || candidate.length == 0 {
			continue
		}
		if !found || candidate.length > best.length {
			best = candidate
			found = true
		}
	}
	return best, found
}

func matchKeyword(text string, pos int) (match, bool) {
	for _, kw := range keywords {
		end, ok := matchWords(text, pos, kw.words)
		if !ok {
			continue
		}
		return match{kind: kw.kind, length: end - pos, lexeme: strings.ToLower(strings.Join(kw.words, " "))}, true
	}
	return match{}, false
}

// matchWords matches a whitespace-separated keyword phrase ending on a word
// boundary and returns the end offset.
func matchWords(text string, pos int, words []string) (int, bool) {
	cur := pos
	for i, word := range words {
		if i > 0 {
			n := spaceRun(text, cur)
			if n == 0 {
				return 0, false
			}
			cur += n
		}
		if len(text)-cur < len(word) || !strings.EqualFold(text[cur:cur+len(word)], word) {
			return 0, false
		}
		cur += len(word)
	}
	if cur < len(text) {
		r, _ := utf8.DecodeRuneInString(text[cur:])
		if isIdentRune(r) {
			return 0, false
		}
	}
	return cur, true
}

func matchOperator(text string, pos int) (match, bool) {
	for _, op := range operators {
		if strings.HasPrefix(text[pos:], op.symbol) {
			return match{kind: op.kind, length: len(op.symbol), lexeme: op.symbol}, true
		}
	}
	return match{}, false
}

func matchPunctuation(text string, pos int) (match, bool) {
	kind, ok := punctuation[text[pos]]
	if !ok {
		return match{}, false
	}
	return match{kind: kind, length: 1, lexeme: text[pos : pos+1]}, true
}

func matchSeparator(text string, pos int) (match, bool) {
	n := spaceRun(text, pos)
	if n == 0 {
		return match{}, false
	}
	return match{kind: Separator, length: n, lexeme: text[pos : pos+n]}, true
}

// matchString matches a single- or double-quoted literal. A backslash
// escapes the closing quote; any other backslash is kept as written.
func matchString(text string, pos int) (match, bool) {
	quote := text[pos]
	if quote != '"' && quote != '\'' {
		return match{}, false
	}
	var sb strings.Builder
	for i := pos + 1; i < len(text); i++ {
		c := text[i]
		if c == '\\' && i+1 < len(text) && text[i+1] == quote {
			sb.WriteByte(quote)
			i++
			continue
		}
		if c == quote {
			return match{kind: StringLiteral, length: i + 1 - pos, lexeme: sb.String()}, true
		}
		sb.WriteByte(c)
	}
	return match{}, false
}

func matchNumber(text string, pos int) (match, bool) {
	end := pos
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == pos {
		return match{}, false
	}
	return match{kind: NumericLiteral, length: end - pos, lexeme: text[pos:end]}, true
}

func matchIdentifier(text string, pos int) (match, bool) {
	end := pos
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isIdentRune(r) {
			break
		}
		end += size
	}
	if end == pos {
		return match{}, false
	}
	return match{kind: Identifier, length: end - pos, lexeme: text[pos:end]}, true
}

func isIdentRune(r rune) bool {
	if unicode.IsSpace(r) {
		return false
	}
	switch r {
	case '(', ')', '[', ']', ',', '"', '\'', '=', '!', '<', '>', utf8.RuneError:
		return false
	}
	return true
}

func spaceRun(text string, pos int) int {
	end := pos
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !unicode.IsSpace(r) {
			break
		}
		end += size
	}
	return end - pos
}

// unmatchedRun returns the text from pos up to the next whitespace, for error
// messages.
func unmatchedRun(text string, pos int) string {
	end := pos
	for end < len(text) && end-pos < 32 {
		r, size := utf8.DecodeRuneInString(text[end:])
		if unicode.IsSpace(r) {
			break
		}
		end += size
	}
	if end == pos {
		end = pos + 1
	}
	return text[pos:end]
}
