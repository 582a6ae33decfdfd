package event

import (
	"errors"
	"strings"
)

var errUnterminated = errors.New("unterminated quote or escape")

type token struct {
	text       string
	start, end int
}

// Args is the text following a command word, split shell-style. Quotes
// group words and backslashes escape the next character. When the text
// cannot be split, Len is zero and String still returns the raw text.
type Args struct {
	raw    string
	tokens []token
}

// ParseArgs splits raw into arguments.
func ParseArgs(raw string) Args {
	raw = strings.TrimSpace(raw)
	tokens, err := lex(raw)
	if err != nil {
		tokens = nil
	}
	return Args{raw: raw, tokens: tokens}
}

// String returns the unsplit text
func (a Args) String() string {
	return a.raw
}

// Len returns the argument count
func (a Args) Len() int {
	return len(a.tokens)
}

// Get returns argument i or "" when out of range.
func (a Args) Get(i int) string {
	if i < 0 || i >= len(a.tokens) {
		return ""
	}
	return a.tokens[i].text
}

// Slice returns a copy of all arguments.
func (a Args) Slice() []string {
	out := make([]string, len(a.tokens))
	for i, t := range a.tokens {
		out[i] = t.text
	}
	return out
}

// After returns the raw, unsplit text following argument i. Useful for
// commands whose last argument is free text: "say #chan hello  world".
func (a Args) After(i int) string {
	if i < 0 || i+1 >= len(a.tokens) {
		return ""
	}
	return a.raw[a.tokens[i+1].start:]
}

func lex(s string) ([]token, error) {
	var (
		out     []token
		cur     strings.Builder
		inToken bool
		start   int
		quote   rune
		escaped bool
	)

	flush := func(end int) {
		if inToken {
			out = append(out, token{text: cur.String(), start: start, end: end})
		}
		cur.Reset()
		inToken = false
	}

	for i, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			if !inToken {
				inToken, start = true, i
			}
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			if !inToken {
				inToken, start = true, i
			}
			quote = r
		case r == ' ' || r == '\t':
			flush(i)
		default:
			if !inToken {
				inToken, start = true, i
			}
			cur.WriteRune(r)
		}
	}

	if escaped || quote != 0 {
		return nil, errUnterminated
	}
	flush(len(s))
	return out, nil
}
