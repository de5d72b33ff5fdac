package phonetic_test

import (
	"testing"

	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/transcript/phonetic"
)

var vocabulary = []string{"alright", "cancel", "pause", "stop", "sure", "wait", "yeah", "no", "ok"}

func TestFolder_Fold(t *testing.T) {
	t.Parallel()

	f := phonetic.New()

	tests := []struct {
		token  string
		want   string
		wantOK bool
	}{
		{"stahp", "stop", true},
		{"cancle", "cancel", true},
		{"allright", "alright", true},
		{"STOP", "stop", true},
		{"hello", "", false},
		{"weather", "", false},
		{"now", "", false},
		{"nope", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			t.Parallel()
			got, ok := f.Fold(tt.token, vocabulary)
			if ok != tt.wantOK {
				t.Fatalf("Fold(%q): ok=%v, want %v (got %q)", tt.token, ok, tt.wantOK, got)
			}
			if got != tt.want {
				t.Errorf("Fold(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestFolder_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	if _, ok := phonetic.New().Fold("stahp", nil); ok {
		t.Error("Fold with empty vocabulary: ok=true, want false")
	}
}

func TestFolder_MinLength(t *testing.T) {
	t.Parallel()

	f := phonetic.New(phonetic.WithMinLength(2))
	if got, ok := f.Fold("noo", []string{"no"}); !ok || got != "no" {
		t.Errorf("Fold(noo) with min length 2 = %q, %v; want no, true", got, ok)
	}
	if _, ok := phonetic.New().Fold("noo", []string{"no"}); ok {
		t.Error("Fold(noo) with default min length: ok=true, want false")
	}
}

func TestFolder_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, ok := strict.Fold("stahp", vocabulary); ok {
		t.Error("strict folder folded stahp")
	}

	_, score, ok := phonetic.New().Match("stahp", vocabulary)
	if !ok || score <= 0 || score >= 1 {
		t.Errorf("Match(stahp) score = %f, ok=%v; want a partial match", score, ok)
	}
}

func TestFolder_WithVocabulary(t *testing.T) {
	t.Parallel()

	v, err := interrupt.NewVocabulary(interrupt.NewNormalizer(interrupt.DefaultAliases()),
		interrupt.DefaultSoftWords(), interrupt.DefaultCommandWords(),
		interrupt.WithTokenFolder(phonetic.New()))
	if err != nil {
		t.Fatalf("NewVocabulary: %v", err)
	}
	n := v.Normalizer()

	if !v.HasCommandWord(n.Normalize("please stahp")) {
		t.Error(`HasCommandWord("please stahp") = false, want true`)
	}
	if v.HasCommandWord(n.Normalize("right now")) {
		t.Error(`HasCommandWord("right now") = true, want false`)
	}
	if !v.IsSoftOnly(n.Normalize("allright")) {
		t.Error(`IsSoftOnly("allright") = false, want true`)
	}
}
