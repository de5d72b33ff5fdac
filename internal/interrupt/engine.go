// Package interrupt decides, per transcript fragment, whether user speech
// heard while a voice agent is talking should cut the agent off or be
// discarded as a backchannel ("yeah", "hmm").
//
// The pipeline is:
//
//	Transcript → [Normalizer] → [Vocabulary] → [Engine] (reads [StateStore]) → [Dispatcher] → [Sink]
//
// The [Engine] applies a confidence gate, debounces interim fragments, and
// then evaluates a fixed decision matrix keyed by the agent's [AgentState]:
//
//	speaking + command word   → interrupt (command_word_detected)
//	speaking + soft words only → ignore    (soft_word_ignored_while_speaking)
//	speaking + anything else   → interrupt (new_content_while_speaking)
//	silent / processing        → input     (agent_silent_process_input)
//
// A [Session] bundles one state store, engine and dispatcher per conversation.
package interrupt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/turnguard/internal/observe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EngineOption configures an [Engine].
type EngineOption func(*engineOptions)

type engineOptions struct {
	metrics *observe.Metrics
	folder  TokenFolder
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithFuzzyFolding enables fuzzy folding of unknown tokens onto the
// vocabulary. See [WithTokenFolder].
func WithFuzzyFolding(f TokenFolder) EngineOption {
	return func(o *engineOptions) { o.folder = f }
}

// pendingEntry is a registered interim fragment and its cancel signal.
type pendingEntry struct {
	PendingTranscription
	cancel chan struct{}
}

// Engine decides whether a transcript should interrupt the agent.
//
// All methods are safe for concurrent use. Interim fragments block only
// their own caller for the debounce delay; the state lock is never held
// across the wait.
type Engine struct {
	vocab     *Vocabulary
	state     *StateStore
	threshold float64
	delay     time.Duration
	metrics   *observe.Metrics

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingEntry
}

// NewEngine validates cfg and builds an Engine reading agent activity from
// state.
func NewEngine(cfg Config, state *StateStore, opts ...EngineOption) (*Engine, error) {
	if state == nil {
		return nil, fmt.Errorf("interrupt: state store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("interrupt: invalid config: %w", err)
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	var vopts []VocabularyOption
	if o.folder != nil {
		vopts = append(vopts, WithTokenFolder(o.folder))
	}
	vocab, err := NewVocabulary(NewNormalizer(cfg.Aliases), cfg.SoftWords, cfg.CommandWords, vopts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		vocab:     vocab,
		state:     state,
		threshold: cfg.ConfidenceThreshold,
		delay:     cfg.TranscriptionDelay,
		metrics:   o.metrics,
		pending:   make(map[uint64]*pendingEntry),
	}, nil
}

// Vocabulary returns the classifier used by e.
func (e *Engine) Vocabulary() *Vocabulary { return e.vocab }

// ShouldInterrupt decides what to do with t. It never fails: every call
// ends in exactly one [Reason].
//
// Final fragments are decided immediately and cancel every pending interim
// fragment. Interim fragments wait for the transcription delay, superseding
// any older pending interim, and are then decided on their own text. A
// fragment cancelled while waiting resolves to [ReasonSuperseded].
func (e *Engine) ShouldInterrupt(ctx context.Context, t Transcript) Decision {
	return e.Begin(ctx, t)()
}

// Begin performs the arrival-ordered part of [Engine.ShouldInterrupt] and
// returns a function that completes the decision. Before Begin returns, t
// has passed the confidence gate, an interim t is registered as pending and
// a final t has cancelled every pending fragment. The returned function
// waits out the debounce delay if any; it must be called exactly once.
//
// Callers that decide interim fragments on separate goroutines call Begin in
// arrival order so a later fragment always supersedes an earlier one.
func (e *Engine) Begin(ctx context.Context, t Transcript) func() Decision {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "interrupt.ShouldInterrupt",
		trace.WithAttributes(
			attribute.Bool("is_final", t.IsFinal),
			attribute.Float64("confidence", t.Confidence),
		),
	)

	finish := e.begin(ctx, t)
	return func() Decision {
		defer span.End()
		d := finish()
		span.SetAttributes(
			attribute.Bool("interrupt", d.Interrupt),
			attribute.String("reason", d.Reason.String()),
		)
		e.metrics.RecordDecision(ctx, d.Reason.String(), d.Interrupt, time.Since(start).Seconds())
		return d
	}
}

func (e *Engine) begin(ctx context.Context, t Transcript) func() Decision {
	// A NaN confidence fails the comparison and is gated too. Text that
	// normalises to nothing still reaches the decision matrix.
	if t.Text == "" || !(t.Confidence >= e.threshold) {
		return func() Decision {
			return Decision{Interrupt: false, Reason: ReasonLowConfidenceOrEmpty}
		}
	}
	n := e.vocab.Normalizer().Normalize(t.Text)

	if !t.IsFinal {
		entry := e.register(ctx, t)
		return func() Decision { return e.debounce(ctx, t, n, entry) }
	}

	e.cancelPending(ctx, 0)
	return func() Decision { return e.evaluate(ctx, t.Text, n) }
}

// register records t as pending and supersedes every older pending
// fragment.
func (e *Engine) register(ctx context.Context, t Transcript) *pendingEntry {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.cancelPendingLocked(ctx, id)
	entry := &pendingEntry{
		PendingTranscription: PendingTranscription{
			ID:         id,
			Text:       t.Text,
			Confidence: t.Confidence,
			ArrivedAt:  time.Now(),
		},
		cancel: make(chan struct{}),
	}
	e.pending[id] = entry
	e.mu.Unlock()
	e.metrics.PendingTranscriptions.Add(ctx, 1)
	return entry
}

// debounce waits for the transcription delay and then evaluates the
// registered fragment as final.
func (e *Engine) debounce(ctx context.Context, t Transcript, n Normalized, entry *pendingEntry) Decision {
	id := entry.ID
	timer := time.NewTimer(e.delay - time.Since(entry.ArrivedAt))
	defer timer.Stop()

	select {
	case <-timer.C:
		if !e.resolvePending(ctx, id) {
			return Decision{Interrupt: false, Reason: ReasonSuperseded}
		}
		return e.evaluate(ctx, t.Text, n)
	case <-entry.cancel:
		observe.Logger(ctx).Debug("interrupt: pending transcript superseded", "id", id, "text", t.Text)
		return Decision{Interrupt: false, Reason: ReasonSuperseded}
	case <-ctx.Done():
		e.resolvePending(ctx, id)
		return Decision{Interrupt: false, Reason: ReasonSuperseded}
	}
}

// resolvePending removes id and reports whether it was still pending.
func (e *Engine) resolvePending(ctx context.Context, id uint64) bool {
	e.mu.Lock()
	_, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if ok {
		e.metrics.PendingTranscriptions.Add(ctx, -1)
	}
	return ok
}

// cancelPending cancels every pending fragment except keep.
func (e *Engine) cancelPending(ctx context.Context, keep uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelPendingLocked(ctx, keep)
}

// cancelPendingLocked must be called with e.mu held.
func (e *Engine) cancelPendingLocked(ctx context.Context, keep uint64) {
	for id, p := range e.pending {
		if id == keep {
			continue
		}
		close(p.cancel)
		delete(e.pending, id)
		e.metrics.PendingTranscriptions.Add(ctx, -1)
	}
}

// Pending returns a snapshot of the fragments currently being debounced.
func (e *Engine) Pending() []PendingTranscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingTranscription, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.PendingTranscription)
	}
	return out
}

// evaluate applies the decision matrix to a final fragment.
func (e *Engine) evaluate(ctx context.Context, text string, n Normalized) Decision {
	state := e.state.Get()
	hasCommand := e.vocab.HasCommandWord(n)
	softOnly := e.vocab.IsSoftOnly(n)

	log := observe.Logger(ctx)
	log.Debug("interrupt: evaluating transcript",
		"state", state.String(),
		"text", text,
		"has_command", hasCommand,
		"soft_only", softOnly,
	)

	var d Decision
	switch state {
	case StateSpeaking:
		switch {
		case hasCommand:
			d = Decision{Interrupt: true, Reason: ReasonCommandWordDetected}
		case softOnly:
			d = Decision{Interrupt: false, Reason: ReasonSoftWordIgnoredWhileSpeaking}
		default:
			d = Decision{Interrupt: true, Reason: ReasonNewContentWhileSpeaking}
		}
	case StateSilent, StateProcessing:
		d = Decision{Interrupt: false, Reason: ReasonAgentSilentProcessInput}
	default:
		panic(fmt.Sprintf("interrupt: unhandled agent state %d", int(state)))
	}

	log.Info("interrupt: decision",
		"state", state.String(),
		"text", text,
		"interrupt", d.Interrupt,
		"reason", d.Reason.String(),
	)
	return d
}
