package interrupt

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultSoftWords are backchannel acknowledgements that do not interrupt a
// speaking agent.
func DefaultSoftWords() []string {
	return []string{
		"yeah", "ok", "hmm", "uh-huh", "right", "mhmm", "aha",
		"got it", "sure", "yep", "yup", "alright",
	}
}

// DefaultCommandWords always interrupt a speaking agent.
func DefaultCommandWords() []string {
	return []string{
		"stop", "wait", "no", "hold on", "pause",
		"hang on", "interrupt", "cancel", "hold up",
	}
}

// TokenFolder maps an unrecognised token onto one of the given words, e.g.
// to absorb recogniser misspellings. Implementations must be safe for
// concurrent use.
type TokenFolder interface {
	Fold(token string, vocabulary []string) (folded string, ok bool)
}

// VocabularyOption configures a [Vocabulary].
type VocabularyOption func(*Vocabulary)

// WithTokenFolder enables fuzzy folding of tokens that are in neither word
// set. Tokens only fold onto single-word commands: a near miss of a soft
// word stays new content, so a misheard sentence still interrupts a
// speaking agent. Disabled by default.
func WithTokenFolder(f TokenFolder) VocabularyOption {
	return func(v *Vocabulary) { v.folder = f }
}

// Vocabulary classifies normalized transcripts against soft and command
// word sets. It is immutable after construction and safe for concurrent use.
type Vocabulary struct {
	soft      map[string]struct{}
	command   map[string]struct{}
	phrases   []string   // multi-word commands, matched as substrings
	softSeqs  [][]string // multi-word soft phrases, longest first
	singles   []string // single-word commands, the folding targets
	folder    TokenFolder
	normalize *Normalizer
}

// NewVocabulary builds a Vocabulary. Words are canonicalised through n
// (lowercased, aliases folded). It returns an error when a word ends up in
// both sets.
func NewVocabulary(n *Normalizer, soft, command []string, opts ...VocabularyOption) (*Vocabulary, error) {
	v := &Vocabulary{
		soft:      make(map[string]struct{}, len(soft)),
		command:   make(map[string]struct{}, len(command)),
		normalize: n,
	}
	for _, o := range opts {
		o(v)
	}

	for _, w := range soft {
		if c := canonicalPhrase(n, w); c != "" {
			v.soft[c] = struct{}{}
		}
	}
	for _, w := range command {
		c := canonicalPhrase(n, w)
		if c == "" {
			continue
		}
		if _, dup := v.soft[c]; dup {
			return nil, fmt.Errorf("interrupt: %q is both a soft word and a command word", c)
		}
		v.command[c] = struct{}{}
		if strings.Contains(c, " ") {
			v.phrases = append(v.phrases, c)
		}
	}
	slices.Sort(v.phrases)

	for w := range v.soft {
		if strings.Contains(w, " ") {
			v.softSeqs = append(v.softSeqs, strings.Fields(w))
		}
	}
	slices.SortFunc(v.softSeqs, func(a, b []string) int {
		if d := len(b) - len(a); d != 0 {
			return d
		}
		return strings.Compare(strings.Join(a, " "), strings.Join(b, " "))
	})
	for w := range v.command {
		if !strings.Contains(w, " ") {
			v.singles = append(v.singles, w)
		}
	}
	slices.Sort(v.singles)
	return v, nil
}

// canonicalPhrase applies the normalizer to each word of a configured phrase.
func canonicalPhrase(n *Normalizer, phrase string) string {
	return strings.Join(n.Normalize(phrase).Tokens, " ")
}

// Normalizer returns the normalizer the vocabulary was built with.
func (v *Vocabulary) Normalizer() *Normalizer { return v.normalize }

// HasCommandWord reports whether any token is a command word or any
// multi-word command occurs verbatim in n.Text.
func (v *Vocabulary) HasCommandWord(n Normalized) bool {
	for _, t := range n.Tokens {
		if _, ok := v.command[v.fold(t)]; ok {
			return true
		}
	}
	for _, p := range v.phrases {
		if strings.Contains(n.Text, p) {
			return true
		}
	}
	return false
}

// IsSoftOnly reports whether n is non-empty and consists solely of soft
// words. Multi-word soft phrases ("got it") must appear as consecutive
// tokens.
func (v *Vocabulary) IsSoftOnly(n Normalized) bool {
	if n.Empty() {
		return false
	}
	for i := 0; i < len(n.Tokens); {
		if k := v.softPhraseAt(n.Tokens[i:]); k > 0 {
			i += k
			continue
		}
		if _, ok := v.soft[n.Tokens[i]]; !ok {
			return false
		}
		i++
	}
	return true
}

// softPhraseAt returns the token length of the longest multi-word soft
// phrase that tokens starts with, or 0.
func (v *Vocabulary) softPhraseAt(tokens []string) int {
	for _, seq := range v.softSeqs {
		if len(seq) <= len(tokens) && slices.Equal(seq, tokens[:len(seq)]) {
			return len(seq)
		}
	}
	return 0
}

// SoftWords returns the canonical soft words in sorted order.
func (v *Vocabulary) SoftWords() []string { return sortedKeys(v.soft) }

// CommandWords returns the canonical command words in sorted order.
func (v *Vocabulary) CommandWords() []string { return sortedKeys(v.command) }

// fold maps t onto a command word, or returns it unchanged when it is a
// known word, no folder is set or nothing matches.
func (v *Vocabulary) fold(t string) string {
	if v.folder == nil {
		return t
	}
	if _, ok := v.soft[t]; ok {
		return t
	}
	if _, ok := v.command[t]; ok {
		return t
	}
	if f, ok := v.folder.Fold(t, v.singles); ok {
		if _, cmd := v.command[f]; cmd {
			return f
		}
	}
	return t
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
