package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/turnguard/internal/interrupt"
)

// connWriter writes JSON messages to a WebSocket connection. Writes on a
// [websocket.Conn] are safe for concurrent use, so decisions finishing on
// different goroutines may share one writer.
type connWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// send marshals msg and writes it as a text frame within the write timeout.
func (w *connWriter) send(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s: %w", msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("gateway: write %s: %w", msg.Type, err)
	}
	return nil
}

// sink forwards dispatcher side effects to the peer.
type sink struct {
	w *connWriter
}

var _ interrupt.Sink = (*sink)(nil)

// CancelOutput implements [interrupt.Sink]. The cancellation counts as
// acknowledged once the frame is written.
func (s *sink) CancelOutput(ctx context.Context) error {
	return s.w.send(ctx, ServerMessage{Type: TypeCancelOutput})
}

// DeliverInput implements [interrupt.Sink].
func (s *sink) DeliverInput(ctx context.Context, in interrupt.Input) error {
	return s.w.send(ctx, ServerMessage{
		Type: TypeDeliverInput,
		Text: in.Text,
		Kind: in.Kind.String(),
	})
}
