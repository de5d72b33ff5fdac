// Package mock provides a test double for the interrupt.Sink interface.
//
// Example:
//
//	sink := &mock.Sink{}
//	sess, _ := interrupt.NewSession("s1", interrupt.DefaultConfig(), sink)
//	sess.OnSpeechStart()
//	sess.HandleTranscript(ctx, interrupt.Transcript{Text: "stop", Confidence: 1, IsFinal: true})
//	// sink.CancelOutputCalls() == 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/turnguard/internal/interrupt"
)

// Sink is a mock implementation of interrupt.Sink.
type Sink struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CancelOutputErr, if non-nil, is returned from CancelOutput.
	CancelOutputErr error

	// DeliverInputErr, if non-nil, is returned from DeliverInput.
	DeliverInputErr error

	// --- Call records ---

	cancelCalls int
	inputs      []interrupt.Input
}

var _ interrupt.Sink = (*Sink)(nil)

// CancelOutput implements interrupt.Sink.
func (s *Sink) CancelOutput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls++
	return s.CancelOutputErr
}

// DeliverInput implements interrupt.Sink.
func (s *Sink) DeliverInput(_ context.Context, in interrupt.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return s.DeliverInputErr
}

// CancelOutputCalls returns how many times CancelOutput was called.
func (s *Sink) CancelOutputCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCalls
}

// Inputs returns a copy of every input passed to DeliverInput, in order.
func (s *Sink) Inputs() []interrupt.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interrupt.Input, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// Reset clears all call records.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCalls = 0
	s.inputs = nil
}
