package replay

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/turnguard/internal/app"
	"github.com/MrWong99/turnguard/internal/config"
	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/observe"
)

// StepResult is the checked outcome of one transcript step.
type StepResult struct {
	// Step is the 1-based position of the step in the scenario.
	Step     int
	Outcome  interrupt.Outcome
	Failures []string
}

// Report summarises one scenario run.
type Report struct {
	Scenario string
	Results  []StepResult

	// Cancels counts CancelOutput calls on the session's sink.
	Cancels int

	// Inputs lists every input delivered to the agent, in order.
	Inputs []interrupt.Input

	Elapsed time.Duration
}

// Passed reports whether every expectation held.
func (r *Report) Passed() bool { return r.Err() == nil }

// Err joins all expectation failures, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		for _, f := range res.Failures {
			errs = append(errs, fmt.Errorf("%s: step %d (%q): %s", r.Scenario, res.Step, res.Outcome.Text, f))
		}
	}
	return errors.Join(errs...)
}

// Option configures a [Runner].
type Option func(*Runner)

// WithMetrics sets the metrics sink used by replayed sessions.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner replays scenarios. Each run gets a fresh session.
type Runner struct {
	cfg     config.InterruptionConfig
	metrics *observe.Metrics
}

// NewRunner returns a Runner whose sessions use cfg unless a scenario
// overrides it.
func NewRunner(cfg config.InterruptionConfig, opts ...Option) *Runner {
	r := &Runner{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run replays sc. A non-nil error means the scenario could not be run;
// failed expectations are reported through [Report.Err].
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	cfg := r.cfg
	if sc.Interruption != nil {
		cfg = *sc.Interruption
	}
	sm, err := app.NewSessionManager(cfg,
		app.WithManagerMetrics(r.metrics),
		app.WithIDGenerator(func() string { return sc.Name }),
	)
	if err != nil {
		return nil, fmt.Errorf("replay: %s: %w", sc.Name, err)
	}
	sink := &recorder{}
	sess, err := sm.Open(sink)
	if err != nil {
		return nil, fmt.Errorf("replay: %s: %w", sc.Name, err)
	}
	defer sm.Close(sess.ID())

	ctx = observe.WithSessionID(ctx, sess.ID())
	log := observe.Logger(ctx)
	log.Info("replay: scenario started", "scenario", sc.Name, "steps", len(sc.Steps))

	rep := &Report{Scenario: sc.Name}
	start := time.Now()
	var (
		mu      sync.Mutex
		pending sync.WaitGroup
	)
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			pending.Wait()
			return rep, fmt.Errorf("replay: %s: %w", sc.Name, err)
		}
		if step.Say != "" {
			log.Info("replay: agent", "say", step.Say)
		}

		switch {
		case step.Event != "":
			applyEvent(sess, step.Event)
		case step.Sleep > 0:
			timer := time.NewTimer(step.Sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		case step.Transcript != nil:
			t := step.transcript()
			finish := sess.Begin(ctx, t)
			record := func() {
				out, _ := finish()
				res := StepResult{Step: i + 1, Outcome: out, Failures: check(step.Expect, out)}
				log.Info("replay: user",
					"text", t.Text,
					"interim", !t.IsFinal,
					"interrupt", out.Interrupt,
					"reason", out.Reason.String(),
					"action", out.Action.String(),
					"ok", len(res.Failures) == 0,
				)
				mu.Lock()
				rep.Results = append(rep.Results, res)
				mu.Unlock()
			}
			if t.IsFinal {
				record()
			} else {
				pending.Go(record)
			}
		}
	}
	pending.Wait()

	slices.SortFunc(rep.Results, func(a, b StepResult) int { return cmp.Compare(a.Step, b.Step) })
	rep.Cancels, rep.Inputs = sink.snapshot()
	rep.Elapsed = time.Since(start)
	log.Info("replay: scenario finished",
		"scenario", sc.Name,
		"passed", rep.Passed(),
		"elapsed", rep.Elapsed.Round(time.Millisecond),
	)
	return rep, nil
}

// RunAll replays every scenario in order and joins all failures. It stops
// early only if a scenario cannot be run.
func (r *Runner) RunAll(ctx context.Context, scenarios []*Scenario) ([]*Report, error) {
	var (
		reports []*Report
		errs    []error
	)
	for _, sc := range scenarios {
		rep, err := r.Run(ctx, sc)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
		if err := rep.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

func applyEvent(sess *interrupt.Session, event string) {
	switch event {
	case EventSpeechStart:
		sess.OnSpeechStart()
	case EventSpeechEnd:
		sess.OnSpeechEnd()
	case EventProcessing:
		sess.OnProcessing()
	}
}

func (s Step) transcript() interrupt.Transcript {
	t := interrupt.Transcript{Text: *s.Transcript, Confidence: 1, IsFinal: !s.Interim}
	if s.Confidence != nil {
		t.Confidence = *s.Confidence
	}
	return t
}

func check(e *Expect, o interrupt.Outcome) []string {
	var failures []string
	if o.Err != nil {
		failures = append(failures, fmt.Sprintf("dispatch failed: %v", o.Err))
	}
	if e == nil {
		return failures
	}
	if e.Interrupt != nil && *e.Interrupt != o.Interrupt {
		failures = append(failures, fmt.Sprintf("interrupt = %v, want %v", o.Interrupt, *e.Interrupt))
	}
	if e.Reason != "" && e.Reason != o.Reason.String() {
		failures = append(failures, fmt.Sprintf("reason = %s, want %s", o.Reason, e.Reason))
	}
	if e.Action != "" && e.Action != o.Action.String() {
		failures = append(failures, fmt.Sprintf("action = %s, want %s", o.Action, e.Action))
	}
	if e.State != "" && e.State != o.State.String() {
		failures = append(failures, fmt.Sprintf("state = %s, want %s", o.State, e.State))
	}
	return failures
}

// recorder is the agent side of a replayed session.
type recorder struct {
	mu      sync.Mutex
	cancels int
	inputs  []interrupt.Input
}

var _ interrupt.Sink = (*recorder)(nil)

func (r *recorder) CancelOutput(ctx context.Context) error {
	r.mu.Lock()
	r.cancels++
	r.mu.Unlock()
	observe.Logger(ctx).Info("replay: agent output cancelled")
	return nil
}

func (r *recorder) DeliverInput(ctx context.Context, in interrupt.Input) error {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.mu.Unlock()
	observe.Logger(ctx).Info("replay: input delivered", "text", in.Text, "kind", in.Kind.String())
	return nil
}

func (r *recorder) snapshot() (int, []interrupt.Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels, slices.Clone(r.inputs)
}
