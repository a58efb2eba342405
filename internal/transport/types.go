package transport

import (
	"errors"
	"fmt"
)

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

type Message struct {
	Type MessageType
	Data []byte
}

func Text(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

func Binary(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseNoStatus  = 1005
	CloseAbnormal  = 1006
)

var ErrClosed = errors.New("transport closed")

// CloseError describes how a channel ended. Clean is set for orderly close
// handshakes; abrupt disconnects are never clean.
type CloseError struct {
	Code   int
	Reason string
	Clean  bool
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport closed (%d)", e.Code)
	}
	return fmt.Sprintf("transport closed (%d): %s", e.Code, e.Reason)
}

func IsCleanCode(code int) bool {
	switch code {
	case CloseNormal, CloseGoingAway, CloseNoStatus:
		return true
	default:
		return false
	}
}

// AsCloseError extracts the close details from a Receive error. Errors that
// are not close errors are reported as abnormal closures.
func AsCloseError(err error) *CloseError {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &CloseError{Code: CloseAbnormal, Reason: reason}
}
