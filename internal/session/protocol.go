package session

import (
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transcript"
	"github.com/eleven-am/voice-stream/internal/transport"
)

// Protocol translates between units/events and wire messages for one
// session type.
type Protocol interface {
	Purpose() shared.Purpose
	// RequiresAck reports whether the remote must acknowledge the
	// connection before audio is accepted.
	RequiresAck() bool
	// Handshake returns control messages sent as soon as the transport is
	// up, before any acknowledgment.
	Handshake(sig *signature.Signature) ([]transport.Message, error)
	Encode(sig *signature.Signature, u Unit) ([]transport.Message, error)
	Decode(msg transport.Message) (Event, error)
}

// URLBuilder is implemented by protocols that carry session parameters in
// the connection URL.
type URLBuilder interface {
	DialURL(sig *signature.Signature) (string, error)
}

// KeepAliver is implemented by protocols that need periodic traffic to keep
// an otherwise quiet connection alive.
type KeepAliver interface {
	KeepAlive(sig *signature.Signature) (transport.Message, error)
}

type EventKind int

const (
	EventIgnore EventKind = iota
	EventAck
	EventResult
	EventAudio
	EventFailure
)

func (k EventKind) String() string {
	switch k {
	case EventAck:
		return "ack"
	case EventResult:
		return "result"
	case EventAudio:
		return "audio"
	case EventFailure:
		return "failure"
	default:
		return "ignore"
	}
}

// Event is a decoded inbound message.
type Event struct {
	Kind      EventKind
	SessionID string
	Code      int
	Message   string

	// Fragment is set for results that feed a transcript.Assembler.
	Fragment *transcript.Fragment
	// Final marks the last message of the exchange for Result/Audio events,
	// or a completed segment when Segment is set.
	Final   bool
	Segment bool

	Text        string
	Translation string
	Audio       []byte
}
