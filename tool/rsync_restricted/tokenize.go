package rsync_restricted

import (
	"strings"
	"unicode"
)

// Tokenize splits a command string on whitespace. A backslash makes the
// following character part of the current token, so "a\ b" is one token.
// Escapes are kept in the tokens; see deBackslash. No quoting is supported:
// the client rsync only ever escapes with backslashes.
//
// A trailing backslash with nothing to escape is a syntax error.
func Tokenize(s string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		inTok  bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			if i+1 >= len(runes) {
				return nil, errInvalidSyntax("")
			}
			cur.WriteRune(r)
			cur.WriteRune(runes[i+1])
			inTok = true
			i++
		case unicode.IsSpace(r):
			if inTok {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if inTok {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// deBackslash removes one level of backslash escaping. A lone trailing
// backslash is kept.
func deBackslash(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}
