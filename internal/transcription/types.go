package transcription

import (
	"encoding/json"
	"time"

	"github.com/eleven-am/voice-stream/internal/session"
)

const (
	DefaultLanguage = "zh_cn"
	DefaultAccent   = "mandarin"
	DefaultDomain   = "rtasr"

	DefaultIdleTimeout    = 30 * time.Second
	DefaultSilenceWarning = 10 * time.Second
)

// Params are the negotiated parameters that identify a pooled connection.
type Params struct {
	Target   string `json:"target"`
	Language string `json:"language"`
	Accent   string `json:"accent"`
	Domain   string `json:"domain"`
}

func (p Params) withDefaults() Params {
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.Accent == "" {
		p.Accent = DefaultAccent
	}
	if p.Domain == "" {
		p.Domain = DefaultDomain
	}
	return p
}

// Fingerprint is the pool key. Unset fields count as their defaults.
func (p Params) Fingerprint() string {
	data, _ := json.Marshal(p.withDefaults())
	return string(data)
}

// Handler receives transcript updates. isFinal marks a completed segment.
type Handler interface {
	session.Handler
	OnResult(text string, isFinal bool)
}

// TranslationHandler is optionally implemented by handlers that want the
// translated text of translation results.
type TranslationHandler interface {
	OnTranslation(source, translated string)
}

type Config struct {
	Session session.Config
	Window  int
}

// ConnectionStatus describes one pooled connection.
type ConnectionStatus struct {
	Fingerprint string        `json:"fingerprint"`
	Params      Params        `json:"params"`
	State       session.State `json:"state"`
	SessionID   string        `json:"session_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
