package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/observe"
)

const (
	defaultReadLimit    = 64 << 10
	defaultWriteTimeout = 5 * time.Second
)

// Sessions opens and closes interruption sessions for connections.
type Sessions interface {
	// Open creates a session whose side effects go to sink.
	Open(sink interrupt.Sink) (*interrupt.Session, error)

	// Close releases the session with the given id.
	Close(id string)
}

// Option is a functional option for [New].
type Option func(*Server)

// WithReadLimit caps the size of inbound messages in bytes. Default: 64 KiB.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithWriteTimeout bounds each outbound frame write. Default: 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithOriginPatterns adds host patterns accepted in the Origin header. The
// request host is always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// Server is an [http.Handler] that upgrades requests to WebSocket and runs
// one interruption session per connection.
type Server struct {
	sessions     Sessions
	readLimit    int64
	writeTimeout time.Duration
	origins      []string

	// base is cancelled by Shutdown, which closes every connection.
	base     context.Context
	stopAll  context.CancelFunc
	conns    sync.WaitGroup
	shutdown sync.Once
}

// New returns a Server that opens sessions through sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions:     sessions,
		readLimit:    defaultReadLimit,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.base, s.stopAll = context.WithCancel(context.Background())
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Warn("gateway: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	s.conns.Add(1)
	defer s.conns.Done()

	out := &connWriter{conn: conn, timeout: s.writeTimeout}
	sess, err := s.sessions.Open(&sink{w: out})
	if err != nil {
		slog.Error("gateway: open session", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	defer s.sessions.Close(sess.ID())

	ctx, cancel := context.WithCancel(observe.WithSessionID(r.Context(), sess.ID()))
	defer cancel()
	stop := context.AfterFunc(s.base, func() {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	log := observe.Logger(ctx)
	if err := out.send(ctx, ServerMessage{Type: TypeSession, SessionID: sess.ID()}); err != nil {
		log.Warn("gateway: send session id", "err", err)
		return
	}
	log.Info("gateway: connection opened", "remote", r.RemoteAddr)

	c := &connection{sess: sess, out: out, log: log}
	err = c.readLoop(ctx, conn)
	cancel()
	c.pending.Wait()

	switch status := websocket.CloseStatus(err); {
	case s.base.Err() != nil:
		log.Info("gateway: connection closed for shutdown")
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("gateway: connection closed by peer")
	case errors.Is(err, context.Canceled):
		log.Info("gateway: connection closed")
	default:
		log.Warn("gateway: connection failed", "err", err)
		conn.Close(websocket.StatusInternalError, "read failed")
	}
}

// Shutdown closes every open connection and waits for their handlers to
// return or for ctx to be done. New upgrades are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(s.stopAll)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connection is the per-connection message handler.
type connection struct {
	sess *interrupt.Session
	out  *connWriter
	log  *slog.Logger

	// pending tracks interim transcripts waiting on their debounce delay.
	pending sync.WaitGroup
}

// readLoop handles inbound messages until the connection fails or ctx is
// done. It always returns a non-nil error.
func (c *connection) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(ctx, "malformed message: "+err.Error())
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *connection) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeSpeechStart:
		c.sess.OnSpeechStart()
	case TypeSpeechEnd:
		c.sess.OnSpeechEnd()
	case TypeProcessing:
		c.sess.OnProcessing()
	case TypeTranscript:
		finish := c.sess.Begin(ctx, msg.transcript())
		if msg.IsFinal {
			c.report(ctx, finish)
			return
		}
		// Interim fragments wait out the debounce delay; a later message may
		// supersede them, so the read loop must keep going.
		c.pending.Go(func() { c.report(ctx, finish) })
	default:
		c.sendError(ctx, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// report completes a decision and sends the outcome to the peer. Dispatch
// errors are logged by the session.
func (c *connection) report(ctx context.Context, finish func() (interrupt.Outcome, error)) {
	out, _ := finish()
	if ctx.Err() != nil {
		return
	}
	if err := c.out.send(ctx, decisionMessage(out)); err != nil {
		c.log.Debug("gateway: send decision", "err", err)
	}
}

func (c *connection) sendError(ctx context.Context, message string) {
	c.log.Debug("gateway: rejecting message", "reason", message)
	if err := c.out.send(ctx, ServerMessage{Type: TypeError, Message: message}); err != nil {
		c.log.Debug("gateway: send error", "err", err)
	}
}
