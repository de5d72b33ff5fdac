// Package gateway exposes interruption sessions over WebSocket.
//
// Each connection is one conversation. The peer (typically the process that
// owns speech recognition and synthesis) streams transcripts and agent
// speech events in; the gateway answers with the side effects the session
// decided on. All messages are JSON text frames tagged by "type".
//
// Inbound:
//
//	{"type":"transcript","text":"stop","confidence":0.93,"is_final":true}
//	{"type":"speech_start"}
//	{"type":"speech_end"}
//	{"type":"processing"}
//
// A transcript without "confidence" is taken as fully confident, so peers
// whose recogniser reports no score are never gated. An explicit 0 is gated.
//
// Outbound:
//
//	{"type":"session","session_id":"..."}
//	{"type":"cancel_output"}
//	{"type":"deliver_input","text":"...","kind":"utterance"}
//	{"type":"decision","interrupt":true,"reason":"command_word_detected","text":"stop"}
//	{"type":"error","message":"..."}
package gateway

import "github.com/MrWong99/turnguard/internal/interrupt"

// Inbound message types.
const (
	TypeTranscript  = "transcript"
	TypeSpeechStart = "speech_start"
	TypeSpeechEnd   = "speech_end"
	TypeProcessing  = "processing"
)

// Outbound message types.
const (
	TypeSession      = "session"
	TypeCancelOutput = "cancel_output"
	TypeDeliverInput = "deliver_input"
	TypeDecision     = "decision"
	TypeError        = "error"
)

// ClientMessage is a message sent by the peer.
type ClientMessage struct {
	Type       string   `json:"type"`
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	IsFinal    bool     `json:"is_final,omitempty"`
}

// transcript converts a transcript message into an [interrupt.Transcript].
func (m ClientMessage) transcript() interrupt.Transcript {
	t := interrupt.Transcript{Text: m.Text, Confidence: 1, IsFinal: m.IsFinal}
	if m.Confidence != nil {
		t.Confidence = *m.Confidence
	}
	return t
}

// ServerMessage is a message sent by the gateway. Only the fields relevant
// to Type are populated.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Interrupt *bool  `json:"interrupt,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Action    string `json:"action,omitempty"`
	Message   string `json:"message,omitempty"`
}

func decisionMessage(o interrupt.Outcome) ServerMessage {
	interrupted := o.Interrupt
	return ServerMessage{
		Type:      TypeDecision,
		Text:      o.Text,
		Interrupt: &interrupted,
		Reason:    o.Reason.String(),
		Action:    o.Action.String(),
	}
}
