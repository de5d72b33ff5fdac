package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/turnguard/internal/interrupt"
)

func rec(session, reason string) Record {
	return Record{SessionID: session, Reason: reason, DecidedAt: time.Now()}
}

func TestMemStore_RecentNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewMemStore(10)
	ctx := context.Background()
	for i := range 3 {
		if err := s.Append(ctx, []Record{rec(fmt.Sprintf("s%d", i), "superseded")}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, Query{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"s2", "s1", "s0"} {
		if got[i].SessionID != want {
			t.Errorf("got[%d].SessionID = %q, want %q", i, got[i].SessionID, want)
		}
	}
	if got[0].ID != 3 || got[2].ID != 1 {
		t.Errorf("IDs = %d..%d, want 3..1", got[0].ID, got[2].ID)
	}
}

func TestMemStore_Wraps(t *testing.T) {
	t.Parallel()

	s := NewMemStore(3)
	ctx := context.Background()
	var batch []Record
	for i := range 5 {
		batch = append(batch, rec(fmt.Sprintf("s%d", i), ""))
	}
	_ = s.Append(ctx, batch)

	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
	got, _ := s.Recent(ctx, Query{})
	if len(got) != 3 || got[0].SessionID != "s4" || got[2].SessionID != "s2" {
		t.Errorf("Recent after wrap = %+v", got)
	}
}

func TestMemStore_Filters(t *testing.T) {
	t.Parallel()

	s := NewMemStore(10)
	ctx := context.Background()
	_ = s.Append(ctx, []Record{
		rec("a", "command_word_detected"),
		rec("b", "command_word_detected"),
		rec("a", "soft_word_ignored_while_speaking"),
		rec("a", "command_word_detected"),
	})

	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"all", Query{}, 4},
		{"by session", Query{SessionID: "a"}, 3},
		{"by reason", Query{Reason: "command_word_detected"}, 3},
		{"by both", Query{SessionID: "a", Reason: "command_word_detected"}, 2},
		{"limit", Query{Limit: 1}, 1},
		{"no match", Query{SessionID: "zzz"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recent(ctx, tt.q)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFromOutcome(t *testing.T) {
	t.Parallel()

	now := time.Now()
	o := interrupt.Outcome{
		SessionID:  "s1",
		Transcript: interrupt.Transcript{Text: "stop", Confidence: 0.9, IsFinal: true},
		Decision:   interrupt.Decision{Interrupt: true, Reason: interrupt.ReasonCommandWordDetected},
		State:      interrupt.StateSilent,
		Action:     interrupt.ActionCancelOutput,
		DecidedAt:  now,
		Latency:    3 * time.Millisecond,
		Err:        errors.New("sink gone"),
	}
	r := FromOutcome(o)

	want := Record{
		SessionID:  "s1",
		Text:       "stop",
		Confidence: 0.9,
		IsFinal:    true,
		State:      "silent",
		Interrupt:  true,
		Reason:     "command_word_detected",
		Action:     "cancel_output",
		Error:      "sink gone",
		Latency:    3 * time.Millisecond,
		DecidedAt:  now,
	}
	if r != want {
		t.Errorf("FromOutcome = %+v, want %+v", r, want)
	}
}
