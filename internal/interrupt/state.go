package interrupt

import (
	"log/slog"
	"sync"
)

// AgentState describes what the voice agent is currently doing.
// The zero value is [StateSilent].
type AgentState int

const (
	// StateSilent means the agent is not producing audio output.
	StateSilent AgentState = iota

	// StateSpeaking means the agent is producing audio output.
	StateSpeaking

	// StateProcessing is an advisory transitional state (e.g. the agent is
	// generating a reply). It is decided like [StateSilent].
	StateProcessing
)

// String returns the lowercase name of s.
func (s AgentState) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// TransitionFunc is notified after every state change.
type TransitionFunc func(from, to AgentState)

// StateStore owns the [AgentState] of a single conversation. Any state may
// follow any other; no transition is rejected.
//
// All methods are safe for concurrent use.
type StateStore struct {
	mu      sync.RWMutex
	current AgentState
	onSet   TransitionFunc
}

// NewStateStore returns a store initialised to [StateSilent]. onSet may be nil.
func NewStateStore(onSet TransitionFunc) *StateStore {
	return &StateStore{current: StateSilent, onSet: onSet}
}

// Set replaces the current state and returns the previous one.
func (s *StateStore) Set(next AgentState) AgentState {
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()

	slog.Debug("interrupt: agent state changed", "from", prev.String(), "to", next.String())
	if s.onSet != nil {
		s.onSet(prev, next)
	}
	return prev
}

// Get returns the current state.
func (s *StateStore) Get() AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
