// Package audit records every interruption decision off the decision path.
//
// Sessions hand each [interrupt.Outcome] to a [Writer], which enqueues it
// without blocking and persists batches to a [Store] from a background
// goroutine. Two stores are provided: [MemStore], a bounded in-process ring,
// and [PostgresStore], backed by a PostgreSQL table.
package audit

import (
	"context"
	"time"

	"github.com/MrWong99/turnguard/internal/interrupt"
)

// Record is one persisted decision.
type Record struct {
	// ID is assigned by the store on append.
	ID int64

	SessionID  string
	Text       string
	Confidence float64
	IsFinal    bool

	// State is the agent state after the side effect was performed.
	State     string
	Interrupt bool
	Reason    string
	Action    string

	// Error is the dispatch error message, empty on success.
	Error string

	Latency   time.Duration
	DecidedAt time.Time
}

// FromOutcome converts a session outcome into a Record.
func FromOutcome(o interrupt.Outcome) Record {
	r := Record{
		SessionID:  o.SessionID,
		Text:       o.Text,
		Confidence: o.Confidence,
		IsFinal:    o.IsFinal,
		State:      o.State.String(),
		Interrupt:  o.Interrupt,
		Reason:     o.Reason.String(),
		Action:     o.Action.String(),
		Latency:    o.Latency,
		DecidedAt:  o.DecidedAt,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// Query filters [Store.Recent]. Zero values match everything.
type Query struct {
	SessionID string
	Reason    string

	// Limit caps the number of records returned. Zero or negative selects
	// [DefaultQueryLimit].
	Limit int
}

// DefaultQueryLimit is used when [Query.Limit] is not positive.
const DefaultQueryLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

func (q Query) matches(r Record) bool {
	if q.SessionID != "" && r.SessionID != q.SessionID {
		return false
	}
	if q.Reason != "" && r.Reason != q.Reason {
		return false
	}
	return true
}

// Store persists decision records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists records in order.
	Append(ctx context.Context, records []Record) error

	// Recent returns the newest matching records, newest first.
	Recent(ctx context.Context, q Query) ([]Record, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
