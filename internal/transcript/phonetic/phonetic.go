// Package phonetic implements [interrupt.TokenFolder] using Double Metaphone
// phonetic encoding combined with Jaro-Winkler string similarity, so that
// recogniser misspellings of backchannel and command words ("stahp",
// "yeahh") are classified like the word the user actually said.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the token and for each vocabulary word. If any code overlaps, the word
//     becomes a phonetic candidate and is accepted when its Jaro-Winkler
//     score reaches the phonetic threshold (default 0.70).
//
//  2. Fuzzy fallback: when no phonetic candidate is accepted, a word whose
//     pure Jaro-Winkler score reaches the fuzzy threshold (default 0.85) is
//     accepted instead.
//
// Tokens and vocabulary words shorter than the minimum length (default 4
// runes) are never folded. Short words such as "no" sit too close to common
// words ("now", "know") for similarity scores to separate them.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinLength         = 4
)

// Option is a functional option for configuring a [Folder].
type Option func(*Folder)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched word to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(f *Folder) {
		f.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the folder falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(f *Folder) {
		f.fuzzyThreshold = threshold
	}
}

// WithMinLength sets the minimum rune length of both the token and the
// vocabulary word for folding to be attempted. Default: 4.
func WithMinLength(n int) Option {
	return func(f *Folder) {
		f.minLength = n
	}
}

// Folder folds misrecognised tokens onto known vocabulary words.
// All methods are safe for concurrent use; the Folder is read-only after
// construction.
type Folder struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

var _ interrupt.TokenFolder = (*Folder)(nil)

// New returns a new [Folder] configured with the supplied options.
func New(opts ...Option) *Folder {
	f := &Folder{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fold returns the vocabulary word most similar to token. When ok is false,
// folded is empty. Ties keep the earliest word in vocabulary.
func (f *Folder) Fold(token string, vocabulary []string) (folded string, ok bool) {
	word, _, ok := f.Match(token, vocabulary)
	if !ok {
		return "", false
	}
	return word, true
}

// Match is like [Folder.Fold] but also reports the Jaro-Winkler score of the
// accepted word.
func (f *Folder) Match(token string, vocabulary []string) (word string, score float64, matched bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if len(vocabulary) == 0 || utf8.RuneCountInString(token) < f.minLength {
		return "", 0, false
	}

	type candidate struct {
		word     string
		score    float64
		phonetic bool
	}
	var best candidate

	tokenCodes := codes(token)
	for _, v := range vocabulary {
		vLower := strings.ToLower(strings.TrimSpace(v))
		if utf8.RuneCountInString(vLower) < f.minLength || strings.Contains(vLower, " ") {
			continue
		}
		if vLower == token {
			return v, 1, true
		}

		jw := matchr.JaroWinkler(token, vLower, false)
		if codesOverlap(tokenCodes, codes(vLower)) {
			if jw >= f.phoneticThreshold && (!best.phonetic || jw > best.score) {
				best = candidate{word: v, score: jw, phonetic: true}
			}
		} else if !best.phonetic && jw >= f.fuzzyThreshold && jw > best.score {
			best = candidate{word: v, score: jw}
		}
	}

	if best.word == "" {
		return "", 0, false
	}
	return best.word, best.score, true
}

// codes returns the non-empty Double Metaphone codes for word.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
