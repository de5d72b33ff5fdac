package interrupt

import (
	"sync"
	"testing"
)

func TestStateStore_StartsSilent(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	if got := s.Get(); got != StateSilent {
		t.Errorf("initial state = %v, want silent", got)
	}
	var zero AgentState
	if zero != StateSilent {
		t.Errorf("zero AgentState = %v, want silent", zero)
	}
}

func TestStateStore_SetReturnsPrevious(t *testing.T) {
	t.Parallel()

	var transitions [][2]AgentState
	s := NewStateStore(func(from, to AgentState) {
		transitions = append(transitions, [2]AgentState{from, to})
	})

	steps := []AgentState{StateSpeaking, StateProcessing, StateSilent, StateSilent, StateSpeaking}
	prev := StateSilent
	for _, next := range steps {
		if got := s.Set(next); got != prev {
			t.Errorf("Set(%v) returned %v, want %v", next, got, prev)
		}
		if got := s.Get(); got != next {
			t.Errorf("Get() = %v after Set(%v)", got, next)
		}
		prev = next
	}

	if len(transitions) != len(steps) {
		t.Fatalf("onSet called %d times, want %d", len(transitions), len(steps))
	}
	if transitions[1] != [2]AgentState{StateSpeaking, StateProcessing} {
		t.Errorf("transition[1] = %v, want speaking->processing", transitions[1])
	}
}

func TestAgentState_String(t *testing.T) {
	t.Parallel()

	tests := map[AgentState]string{
		StateSilent:     "silent",
		StateSpeaking:   "speaking",
		StateProcessing: "processing",
		AgentState(42):  "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("AgentState(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestStateStore_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewStateStore(nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			if i%2 == 0 {
				s.Set(StateSpeaking)
			} else {
				s.Set(StateSilent)
			}
			_ = s.Get()
		})
	}
	wg.Wait()

	if got := s.Get(); got != StateSpeaking && got != StateSilent {
		t.Errorf("final state = %v, want speaking or silent", got)
	}
}
