package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [BreakerStore.Append] while the wrapped store
// is considered down.
var ErrCircuitOpen = errors.New("audit: store circuit is open")

const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerOption configures a [BreakerStore].
type BreakerOption func(*BreakerStore)

// WithMaxFailures sets how many consecutive failed appends open the circuit.
// Default: 5.
func WithMaxFailures(n int) BreakerOption {
	return func(b *BreakerStore) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithResetTimeout sets how long the circuit stays open before one probe
// append is let through. Default: 30s.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(b *BreakerStore) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// BreakerStore guards the append path of a [Store] with a circuit breaker.
// After too many consecutive failures appends fail fast with
// [ErrCircuitOpen] until the reset timeout elapses; then a single probe is
// allowed and its result closes or re-opens the circuit. Reads pass through.
type BreakerStore struct {
	Store

	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    circuitState
	failures int
	openedAt time.Time
}

var _ Store = (*BreakerStore)(nil)

// NewBreakerStore wraps s.
func NewBreakerStore(s Store, opts ...BreakerOption) *BreakerStore {
	b := &BreakerStore{
		Store:        s,
		maxFailures:  defaultMaxFailures,
		resetTimeout: defaultResetTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Append forwards to the wrapped store unless the circuit is open.
func (b *BreakerStore) Append(ctx context.Context, records []Record) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := b.Store.Append(ctx, records)
	b.record(err)
	return err
}

// Ping fails while the circuit is open so readiness reflects a store that
// keeps rejecting writes even if it still answers pings.
func (b *BreakerStore) Ping(ctx context.Context) error {
	if b.State() == circuitOpen.String() {
		return ErrCircuitOpen
	}
	return b.Store.Ping(ctx)
}

// State returns "closed", "open" or "half-open".
func (b *BreakerStore) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *BreakerStore) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case circuitOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = circuitHalfOpen
		slog.Info("audit: store circuit half-open, probing")
		return true
	case circuitHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

func (b *BreakerStore) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != circuitClosed {
			slog.Info("audit: store circuit closed")
		}
		b.state = circuitClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == circuitHalfOpen || b.failures >= b.maxFailures {
		if b.state != circuitOpen {
			slog.Warn("audit: store circuit opened", "consecutive_failures", b.failures, "err", err)
		}
		b.state = circuitOpen
		b.openedAt = b.now()
	}
}
