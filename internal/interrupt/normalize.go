package interrupt

import (
	"strings"
	"unicode"
)

// trailingPunctuation is stripped from the end of a transcript before
// tokenising, together with any whitespace interleaved with it.
const trailingPunctuation = ".,!?"

// DefaultAliases folds common spelling variants onto their canonical form.
func DefaultAliases() map[string]string {
	return map[string]string{
		"okay": "ok",
	}
}

// Normalized is a canonicalised transcript.
type Normalized struct {
	// Text is the lowercased, trimmed text without trailing punctuation.
	// Aliases are not applied to Text.
	Text string

	// Tokens are the whitespace-separated words of Text with aliases folded.
	Tokens []string
}

// Empty reports whether n has no tokens.
func (n Normalized) Empty() bool { return len(n.Tokens) == 0 }

// Normalizer turns raw transcript text into [Normalized] form. It is
// read-only after construction and safe for concurrent use.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer copies aliases (keys and values lowercased) into a new
// Normalizer. A nil map means no aliasing.
func NewNormalizer(aliases map[string]string) *Normalizer {
	a := make(map[string]string, len(aliases))
	for k, v := range aliases {
		a[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return &Normalizer{aliases: a}
}

// Normalize never fails; empty input yields an empty token slice.
func (n *Normalizer) Normalize(text string) Normalized {
	s := strings.TrimLeftFunc(strings.ToLower(text), unicode.IsSpace)
	s = strings.TrimRightFunc(s, isTrailingNoise)

	fields := strings.Fields(s)
	tokens := make([]string, len(fields))
	for i, f := range fields {
		tokens[i] = n.Fold(f)
	}
	return Normalized{Text: s, Tokens: tokens}
}

func isTrailingNoise(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(trailingPunctuation, r)
}

// Fold returns the canonical form of a single lowercase token.
func (n *Normalizer) Fold(token string) string {
	if c, ok := n.aliases[token]; ok {
		return c
	}
	return token
}
