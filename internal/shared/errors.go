package shared

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrAlreadyOpen   = errors.New("session already open")
	ErrSessionClosed = errors.New("session closed")
	ErrNotReady      = errors.New("session not ready")
)

type ErrorKind string

const (
	KindAuth             ErrorKind = "auth"
	KindHandshake        ErrorKind = "handshake"
	KindHandshakeTimeout ErrorKind = "handshake_timeout"
	KindProtocol         ErrorKind = "protocol"
	KindRemote           ErrorKind = "remote"
	KindTransport        ErrorKind = "transport"
	KindPlayback         ErrorKind = "playback"
)

// Error is the structured failure surfaced to callers. It carries enough
// context (code, session, last event) to be logged without the session.
type Error struct {
	Kind      ErrorKind
	Code      int
	Message   string
	SessionID string
	LastEvent string
	Class     Classification
	Err       error
}

func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// RemoteFailure builds a KindRemote error from a status code returned by the
// remote service.
func RemoteFailure(code int, message, sid string) *Error {
	class := Classify(code)
	if message == "" {
		message = class.Message
	}
	return &Error{
		Kind:      KindRemote,
		Code:      code,
		Message:   message,
		SessionID: sid,
		Class:     class,
	}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried by the reconnect path.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindHandshakeTimeout, KindTransport:
		return true
	case KindRemote:
		return e.Class.Retryable
	default:
		return false
	}
}

// Context returns the structured fields used when logging the failure.
func (e *Error) Context() []any {
	return []any{
		"sid", e.SessionID,
		"kind", string(e.Kind),
		"code", e.Code,
		"message", e.Message,
		"last_event", e.LastEvent,
		"severity", string(e.Class.Severity),
	}
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

type APIError struct {
	Code    string `json:"code" example:"invalid_request"`
	Message string `json:"message" example:"Invalid request body"`
	Details any    `json:"details,omitempty"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToHTTP(status int) *echo.HTTPError {
	return echo.NewHTTPError(status, e)
}

func BadRequest(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadRequest)
}

func Unauthorized(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusUnauthorized)
}

func NotFound(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusNotFound)
}

func BadGateway(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusBadGateway)
}

func InternalError(code, message string) *echo.HTTPError {
	return NewAPIError(code, message).ToHTTP(http.StatusInternalServerError)
}
