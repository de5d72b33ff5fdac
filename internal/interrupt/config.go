package interrupt

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

const (
	// DefaultConfidenceThreshold is the minimum recogniser confidence a
	// transcript needs before it is classified at all.
	DefaultConfidenceThreshold = 0.7

	// DefaultTranscriptionDelay is how long an interim fragment is held
	// before it is decided.
	DefaultTranscriptionDelay = 200 * time.Millisecond
)

// Config holds the decision parameters for an [Engine]. Treat it as an
// immutable value once an engine has been built from it.
type Config struct {
	// SoftWords are canonical backchannel phrases.
	SoftWords []string

	// CommandWords are canonical phrases that always interrupt. Entries
	// containing a space are matched as contiguous substrings.
	CommandWords []string

	// Aliases maps surface variants onto canonical words ("okay" → "ok").
	Aliases map[string]string

	// ConfidenceThreshold must be in [0, 1]. NaN is rejected.
	ConfidenceThreshold float64

	// TranscriptionDelay must be non-negative.
	TranscriptionDelay time.Duration
}

// DefaultConfig returns the built-in vocabulary and thresholds.
func DefaultConfig() Config {
	return Config{
		SoftWords:           DefaultSoftWords(),
		CommandWords:        DefaultCommandWords(),
		Aliases:             DefaultAliases(),
		ConfidenceThreshold: DefaultConfidenceThreshold,
		TranscriptionDelay:  DefaultTranscriptionDelay,
	}
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.SoftWords = slices.Clone(c.SoftWords)
	c.CommandWords = slices.Clone(c.CommandWords)
	c.Aliases = maps.Clone(c.Aliases)
	return c
}

// Validate reports every contract violation in c, joined.
func (c Config) Validate() error {
	var errs []error
	if !(c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1) {
		errs = append(errs, fmt.Errorf("confidence_threshold %.2f is out of range [0, 1]", c.ConfidenceThreshold))
	}
	if c.TranscriptionDelay < 0 {
		errs = append(errs, fmt.Errorf("transcription_delay %s must not be negative", c.TranscriptionDelay))
	}
	for from, to := range c.Aliases {
		if _, chained := c.Aliases[to]; chained && to != from {
			errs = append(errs, fmt.Errorf("alias %q -> %q points at another alias", from, to))
		}
	}
	n := NewNormalizer(c.Aliases)
	if _, err := NewVocabulary(n, c.SoftWords, c.CommandWords); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
