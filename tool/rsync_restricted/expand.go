package rsync_restricted

import (
	"strconv"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/pattern"
	"mvdan.cc/sh/v3/syntax"
)

// maxBraceWords caps how many operands a single brace expression may
// produce.
const maxBraceWords = 4096

// expandOperand performs brace expansion on a raw operand token and removes
// its backslash escapes. Operands whose braces or commas are escaped are not
// brace-expanded, and neither are malformed expressions such as "a{b".
func expandOperand(raw string) ([]string, error) {
	if hasEscapedBraceChar(raw) {
		return []string{deBackslash(raw)}, nil
	}
	word := &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: raw}}}
	if !syntax.SplitBraces(word) {
		return []string{deBackslash(raw)}, nil
	}
	if n := wordCount(word); n > maxBraceWords {
		return nil, reject(KindSyntax, operandOption, "brace expansion of %s yields too many arguments", deBackslash(raw))
	}
	words := expand.Braces(word)
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, deBackslash(w.Lit()))
	}
	return out, nil
}

// hasGlobMeta reports whether a de-escaped value contains wildcard
// characters.
func hasGlobMeta(s string) bool {
	return pattern.HasMeta(s, 0)
}

func hasEscapedBraceChar(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '\\' {
			continue
		}
		switch s[i+1] {
		case '{', '}', ',':
			return true
		}
		i++
	}
	return false
}

// wordCount returns how many words expand.Braces would produce for word,
// saturating just above maxBraceWords.
func wordCount(word *syntax.Word) int {
	n := 1
	for _, part := range word.Parts {
		br, ok := part.(*syntax.BraceExp)
		if !ok {
			continue
		}
		n = saturate(n * braceCount(br))
	}
	return n
}

func braceCount(br *syntax.BraceExp) int {
	if !br.Sequence {
		n := 0
		for _, elem := range br.Elems {
			n = saturate(n + wordCount(elem))
		}
		return n
	}
	from, to, ok := sequenceBounds(br.Elems[0].Lit(), br.Elems[1].Lit())
	if !ok {
		return 1
	}
	upward := from <= to
	incr := 1
	if len(br.Elems) > 2 {
		if step, err := strconv.Atoi(br.Elems[2].Lit()); err == nil && step != 0 && step > 0 == upward {
			incr = step
		}
	}
	if incr < 0 {
		incr = -incr
	}
	span := to - from
	if span < 0 {
		span = -span
	}
	return saturate(span/incr + 1)
}

func sequenceBounds(fromLit, toLit string) (int, int, bool) {
	from, err1 := strconv.Atoi(fromLit)
	to, err2 := strconv.Atoi(toLit)
	if err1 == nil && err2 == nil {
		return from, to, true
	}
	if fromLit == "" || toLit == "" {
		return 0, 0, false
	}
	return int(fromLit[0]), int(toLit[0]), true
}

func saturate(n int) int {
	if n < 0 || n > maxBraceWords {
		return maxBraceWords + 1
	}
	return n
}
