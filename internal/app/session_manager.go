package app

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/turnguard/internal/config"
	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/observe"
	"github.com/MrWong99/turnguard/internal/transcript/phonetic"
)

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when the session was opened.
	StartedAt time.Time

	// State is the agent's current activity state.
	State interrupt.AgentState
}

type managedSession struct {
	sess      *interrupt.Session
	startedAt time.Time
}

// ManagerOption configures a [SessionManager].
type ManagerOption func(*SessionManager)

// WithManagerMetrics sets the metrics sink shared by every session.
func WithManagerMetrics(m *observe.Metrics) ManagerOption {
	return func(sm *SessionManager) { sm.metrics = m }
}

// WithOutcomeObserver registers fn on every session the manager opens.
func WithOutcomeObserver(fn interrupt.Observer) ManagerOption {
	return func(sm *SessionManager) { sm.observer = fn }
}

// WithIDGenerator replaces the random UUID session ids.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(sm *SessionManager) { sm.newID = fn }
}

// SessionManager opens and tracks interruption sessions. Every session is
// built from the interruption config current at the time it is opened;
// [SessionManager.Reconfigure] never touches sessions that already exist.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	metrics  *observe.Metrics
	observer interrupt.Observer
	newID    func() string

	mu       sync.Mutex
	cfg      interrupt.Config
	folder   interrupt.TokenFolder
	sessions map[string]managedSession
}

// NewSessionManager creates a SessionManager for the given interruption
// config. It fails if the config is invalid.
func NewSessionManager(cfg config.InterruptionConfig, opts ...ManagerOption) (*SessionManager, error) {
	sm := &SessionManager{
		newID:    uuid.NewString,
		sessions: make(map[string]managedSession),
	}
	for _, o := range opts {
		o(sm)
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if err := sm.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return sm, nil
}

// Reconfigure replaces the config used for sessions opened from now on.
// On error the previous config stays in effect.
func (sm *SessionManager) Reconfigure(cfg config.InterruptionConfig) error {
	ic := cfg.ToInterrupt()
	if err := ic.Validate(); err != nil {
		return fmt.Errorf("app: interruption config: %w", err)
	}
	folder := newFolder(cfg.FuzzyFolding)

	sm.mu.Lock()
	sm.cfg = ic
	sm.folder = folder
	sm.mu.Unlock()

	slog.Info("app: interruption config applied",
		"soft_words", len(ic.SoftWords),
		"command_words", len(ic.CommandWords),
		"confidence_threshold", ic.ConfidenceThreshold,
		"transcription_delay", ic.TranscriptionDelay,
		"fuzzy_folding", folder != nil,
	)
	return nil
}

// newFolder returns the phonetic folder described by fc, or nil when
// folding is disabled.
func newFolder(fc config.FuzzyFoldingConfig) interrupt.TokenFolder {
	if !fc.Enabled {
		return nil
	}
	var opts []phonetic.Option
	if fc.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(fc.PhoneticThreshold))
	}
	if fc.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(fc.FuzzyThreshold))
	}
	if fc.MinLength > 0 {
		opts = append(opts, phonetic.WithMinLength(fc.MinLength))
	}
	return phonetic.New(opts...)
}

// Open creates a session whose side effects go to sink. It implements the
// gateway's session source.
func (sm *SessionManager) Open(sink interrupt.Sink) (*interrupt.Session, error) {
	sm.mu.Lock()
	cfg := sm.cfg.Clone()
	folder := sm.folder
	sm.mu.Unlock()

	opts := []interrupt.SessionOption{interrupt.WithSessionMetrics(sm.metrics)}
	if folder != nil {
		opts = append(opts, interrupt.WithSessionFolder(folder))
	}
	if sm.observer != nil {
		opts = append(opts, interrupt.WithObserver(sm.observer))
	}

	id := sm.newID()
	sess, err := interrupt.NewSession(id, cfg, sink, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	sm.mu.Lock()
	if _, dup := sm.sessions[id]; dup {
		sm.mu.Unlock()
		return nil, fmt.Errorf("app: open session: duplicate session id %q", id)
	}
	sm.sessions[id] = managedSession{sess: sess, startedAt: time.Now().UTC()}
	active := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("app: session opened", "session_id", id, "active", active)
	return sess, nil
}

// Close forgets the session with the given id. Unknown ids are ignored.
func (sm *SessionManager) Close(id string) {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	delete(sm.sessions, id)
	active := len(sm.sessions)
	sm.mu.Unlock()
	if !ok {
		return
	}

	sm.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("app: session closed",
		"session_id", id,
		"duration", time.Since(ms.startedAt).Round(time.Millisecond),
		"active", active,
	)
}

// Get returns the live session with the given id.
func (sm *SessionManager) Get(id string) (*interrupt.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	return ms.sess, ok
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// List returns metadata for every live session, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for id, ms := range sm.sessions {
		out = append(out, SessionInfo{SessionID: id, StartedAt: ms.startedAt, State: ms.sess.State()})
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), strings.Compare(a.SessionID, b.SessionID))
	})
	return out
}
