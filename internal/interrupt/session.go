package interrupt

import (
	"context"
	"time"

	"github.com/MrWong99/turnguard/internal/observe"
)

// Outcome records one handled transcript.
type Outcome struct {
	SessionID string
	Transcript
	Decision
	State     AgentState // state observed after dispatch
	Action    Action
	DecidedAt time.Time
	Latency   time.Duration
	Err       error
}

// Observer is notified of every [Outcome]. It must not block.
type Observer func(Outcome)

// SessionOption configures a [Session].
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	metrics  *observe.Metrics
	folder   TokenFolder
	observer Observer
}

// WithSessionMetrics sets the metrics sink for the session's engine,
// dispatcher and state store.
func WithSessionMetrics(m *observe.Metrics) SessionOption {
	return func(o *sessionOptions) { o.metrics = m }
}

// WithSessionFolder enables fuzzy token folding. See [WithTokenFolder].
func WithSessionFolder(f TokenFolder) SessionOption {
	return func(o *sessionOptions) { o.folder = f }
}

// WithObserver registers fn to receive every outcome.
func WithObserver(fn Observer) SessionOption {
	return func(o *sessionOptions) { o.observer = fn }
}

// Session is the interruption logic for one conversation: agent state,
// decision engine and dispatcher wired to a single [Sink].
//
// All methods are safe for concurrent use. Speech start/end notifications
// and transcripts may arrive from different goroutines.
type Session struct {
	id         string
	state      *StateStore
	engine     *Engine
	dispatcher *Dispatcher
	observer   Observer
}

// NewSession builds a Session with id from cfg. The agent starts silent.
func NewSession(id string, cfg Config, sink Sink, opts ...SessionOption) (*Session, error) {
	o := sessionOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	metrics := o.metrics
	state := NewStateStore(func(from, to AgentState) {
		metrics.RecordStateTransition(context.Background(), from.String(), to.String())
	})

	eopts := []EngineOption{WithMetrics(metrics)}
	if o.folder != nil {
		eopts = append(eopts, WithFuzzyFolding(o.folder))
	}
	engine, err := NewEngine(cfg, state, eopts...)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:         id,
		state:      state,
		engine:     engine,
		dispatcher: NewDispatcher(sink, state, engine.Vocabulary(), metrics),
		observer:   o.observer,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current agent state.
func (s *Session) State() AgentState { return s.state.Get() }

// Engine exposes the session's decision engine.
func (s *Session) Engine() *Engine { return s.engine }

// OnSpeechStart records that the agent began audio output.
func (s *Session) OnSpeechStart() { s.state.Set(StateSpeaking) }

// OnSpeechEnd records that the agent's audio output ended.
func (s *Session) OnSpeechEnd() { s.state.Set(StateSilent) }

// OnProcessing records that the agent is preparing a reply.
func (s *Session) OnProcessing() { s.state.Set(StateProcessing) }

// HandleTranscript decides t and dispatches the result. For interim
// fragments it blocks for the transcription delay; callers that must keep
// reading events should use [Session.Begin] instead.
func (s *Session) HandleTranscript(ctx context.Context, t Transcript) (Outcome, error) {
	return s.Begin(ctx, t)()
}

// Begin starts deciding t in arrival order (see [Engine.Begin]) and returns
// a function that waits out any debounce delay, dispatches the decision and
// reports the outcome. The function must be called exactly once; it may run
// on another goroutine.
func (s *Session) Begin(ctx context.Context, t Transcript) func() (Outcome, error) {
	start := time.Now()
	finish := s.engine.Begin(ctx, t)
	return func() (Outcome, error) {
		d := finish()
		action, err := s.dispatcher.Dispatch(ctx, d, t.Text)

		out := Outcome{
			SessionID:  s.id,
			Transcript: t,
			Decision:   d,
			State:      s.state.Get(),
			Action:     action,
			DecidedAt:  time.Now(),
			Latency:    time.Since(start),
			Err:        err,
		}
		if err != nil {
			observe.Logger(ctx).Warn("interrupt: dispatch failed",
				"session_id", s.id,
				"reason", d.Reason.String(),
				"err", err,
			)
		}
		if s.observer != nil {
			s.observer(out)
		}
		return out, err
	}
}
