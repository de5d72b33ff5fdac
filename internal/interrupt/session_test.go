package interrupt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/interrupt/mock"
	"github.com/MrWong99/turnguard/internal/observe"
	"go.opentelemetry.io/otel/metric/noop"
)

func newSession(t *testing.T, sink interrupt.Sink, cfg interrupt.Config, opts ...interrupt.SessionOption) *interrupt.Session {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]interrupt.SessionOption{interrupt.WithSessionMetrics(m)}, opts...)
	s, err := interrupt.NewSession("test", cfg, sink, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

// final is shorthand for a confident final transcript.
func final(text string) interrupt.Transcript {
	return interrupt.Transcript{Text: text, Confidence: 1, IsFinal: true}
}

func TestSession_LongExplanation(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := newSession(t, sink, interrupt.DefaultConfig())
	ctx := context.Background()

	s.OnSpeechStart()
	for _, text := range []string{"okay", "yeah", "uh-huh", "hmm", "right"} {
		out, err := s.HandleTranscript(ctx, final(text))
		if err != nil {
			t.Fatalf("HandleTranscript(%q): %v", text, err)
		}
		if out.Reason != interrupt.ReasonSoftWordIgnoredWhileSpeaking {
			t.Errorf("%q: reason = %v, want soft_word_ignored_while_speaking", text, out.Reason)
		}
	}
	if n := sink.CancelOutputCalls(); n != 0 {
		t.Errorf("CancelOutput calls = %d, want 0", n)
	}
	if got := s.State(); got != interrupt.StateSpeaking {
		t.Errorf("state = %v, want speaking", got)
	}
}

func TestSession_QuestionResponse(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := newSession(t, sink, interrupt.DefaultConfig())

	out, err := s.HandleTranscript(context.Background(), final("yeah"))
	if err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	if out.Action != interrupt.ActionAcknowledge {
		t.Errorf("action = %v, want acknowledge", out.Action)
	}
	inputs := sink.Inputs()
	if len(inputs) != 1 || inputs[0].Kind != interrupt.InputAcknowledgement {
		t.Errorf("inputs = %+v, want one acknowledgement", inputs)
	}
}

func TestSession_UrgentInterruption(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := newSession(t, sink, interrupt.DefaultConfig())
	ctx := context.Background()

	s.OnSpeechStart()
	out, err := s.HandleTranscript(ctx, final("No stop"))
	if err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	if !out.Interrupt || out.Reason != interrupt.ReasonCommandWordDetected {
		t.Errorf("decision = %+v, want command_word_detected interrupt", out.Decision)
	}
	if out.State != interrupt.StateSilent {
		t.Errorf("outcome state = %v, want silent", out.State)
	}
	if sink.CancelOutputCalls() != 1 {
		t.Errorf("CancelOutput calls = %d, want 1", sink.CancelOutputCalls())
	}

	// Once silenced the next utterance is input.
	out, err = s.HandleTranscript(ctx, final("tell me about the weather"))
	if err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	if out.Action != interrupt.ActionDeliverInput {
		t.Errorf("action = %v, want deliver_input", out.Action)
	}
}

func TestSession_StateNotifications(t *testing.T) {
	t.Parallel()

	s := newSession(t, &mock.Sink{}, interrupt.DefaultConfig())
	s.OnSpeechStart()
	if s.State() != interrupt.StateSpeaking {
		t.Errorf("after OnSpeechStart state = %v", s.State())
	}
	s.OnProcessing()
	if s.State() != interrupt.StateProcessing {
		t.Errorf("after OnProcessing state = %v", s.State())
	}
	s.OnSpeechEnd()
	if s.State() != interrupt.StateSilent {
		t.Errorf("after OnSpeechEnd state = %v", s.State())
	}
}

func TestSession_Observer(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		outcomes []interrupt.Outcome
	)
	s := newSession(t, &mock.Sink{}, interrupt.DefaultConfig(), interrupt.WithObserver(func(o interrupt.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}))

	s.OnSpeechStart()
	_, _ = s.HandleTranscript(context.Background(), final("hmm"))
	_, _ = s.HandleTranscript(context.Background(), final("wait"))

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 {
		t.Fatalf("observer called %d times, want 2", len(outcomes))
	}
	if outcomes[0].SessionID != "test" || outcomes[0].Text != "hmm" {
		t.Errorf("outcome[0] = %+v", outcomes[0])
	}
	if outcomes[1].Action != interrupt.ActionCancelOutput {
		t.Errorf("outcome[1].Action = %v, want cancel_output", outcomes[1].Action)
	}
	if outcomes[1].DecidedAt.IsZero() {
		t.Error("outcome[1].DecidedAt is zero")
	}
}

func TestSession_InterimThenFinal(t *testing.T) {
	t.Parallel()

	cfg := interrupt.DefaultConfig()
	cfg.TranscriptionDelay = time.Hour
	sink := &mock.Sink{}
	s := newSession(t, sink, cfg)
	ctx := context.Background()
	s.OnSpeechStart()

	interim := make(chan interrupt.Outcome, 1)
	go func() {
		out, _ := s.HandleTranscript(ctx, interrupt.Transcript{Text: "hold", Confidence: 0.9})
		interim <- out
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Engine().Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("interim never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	out, err := s.HandleTranscript(ctx, final("hold on"))
	if err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	if out.Action != interrupt.ActionCancelOutput {
		t.Errorf("final action = %v, want cancel_output", out.Action)
	}

	got := <-interim
	if got.Reason != interrupt.ReasonSuperseded || got.Action != interrupt.ActionNone {
		t.Errorf("interim outcome = %v/%v, want superseded/none", got.Reason, got.Action)
	}
	if n := sink.CancelOutputCalls(); n != 1 {
		t.Errorf("CancelOutput calls = %d, want 1", n)
	}
}

func TestSession_FuzzyFolder(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	s := newSession(t, sink, interrupt.DefaultConfig(), interrupt.WithSessionFolder(fixedFolder{"stahp": "stop"}))
	s.OnSpeechStart()

	out, err := s.HandleTranscript(context.Background(), final("stahp"))
	if err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	if out.Reason != interrupt.ReasonCommandWordDetected {
		t.Errorf("reason = %v, want command_word_detected", out.Reason)
	}
}

type fixedFolder map[string]string

func (f fixedFolder) Fold(token string, _ []string) (string, bool) {
	c, ok := f[token]
	return c, ok
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := interrupt.DefaultConfig()
	cfg.TranscriptionDelay = -time.Second
	if _, err := interrupt.NewSession("bad", cfg, &mock.Sink{}); err == nil {
		t.Error("expected error for negative delay")
	}
}
