package interrupt

import "time"

// Reason explains why the engine reached a [Decision].
type Reason int

const (
	// ReasonLowConfidenceOrEmpty: the transcript was empty or below the
	// confidence threshold.
	ReasonLowConfidenceOrEmpty Reason = iota

	// ReasonCommandWordDetected: a command word or phrase was heard while
	// the agent was speaking.
	ReasonCommandWordDetected

	// ReasonSoftWordIgnoredWhileSpeaking: only backchannel words were heard
	// while the agent was speaking.
	ReasonSoftWordIgnoredWhileSpeaking

	// ReasonNewContentWhileSpeaking: non-backchannel content was heard while
	// the agent was speaking.
	ReasonNewContentWhileSpeaking

	// ReasonAgentSilentProcessInput: the agent was silent or processing, so
	// the utterance is input.
	ReasonAgentSilentProcessInput

	// ReasonSuperseded: an interim fragment was cancelled before its debounce
	// delay elapsed, either by a newer transcript or by its context.
	ReasonSuperseded
)

// String returns the snake_case reason code used in logs, metrics and the
// gateway protocol.
func (r Reason) String() string {
	switch r {
	case ReasonLowConfidenceOrEmpty:
		return "low_confidence_or_empty"
	case ReasonCommandWordDetected:
		return "command_word_detected"
	case ReasonSoftWordIgnoredWhileSpeaking:
		return "soft_word_ignored_while_speaking"
	case ReasonNewContentWhileSpeaking:
		return "new_content_while_speaking"
	case ReasonAgentSilentProcessInput:
		return "agent_silent_process_input"
	case ReasonSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Decision is the result of [Engine.ShouldInterrupt].
type Decision struct {
	Interrupt bool
	Reason    Reason
}

// Transcript is a single recognised fragment from the speech recogniser.
type Transcript struct {
	// Text is the raw transcript text.
	Text string

	// Confidence is the recogniser's confidence in [0, 1].
	Confidence float64

	// IsFinal is false for interim (still changing) fragments.
	IsFinal bool
}

// PendingTranscription is an interim fragment waiting for its debounce
// delay to elapse.
type PendingTranscription struct {
	ID         uint64
	Text       string
	Confidence float64
	ArrivedAt  time.Time
}
