package transcription

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transcript"
	"github.com/eleven-am/voice-stream/internal/transport"
)

// Client is a long-running transcription session. Each segment is refined
// in place until the remote marks it final.
type Client struct {
	sess    *session.Session
	asm     *transcript.Assembler
	params  Params
	handler Handler
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ Transcriber = (*Client)(nil)

func New(signer signature.Signer, dialer transport.Dialer, params Params, handler Handler, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	params = params.withDefaults()
	sc := cfg.Session
	if sc.IdleTimeout == 0 {
		sc.IdleTimeout = DefaultIdleTimeout
	}
	if sc.SilenceWarning == 0 {
		sc.SilenceWarning = DefaultSilenceWarning
	}
	if sc.ActiveState == "" {
		sc.ActiveState = session.StateRecognizing
	}

	c := &Client{
		asm:     transcript.NewAssembler(cfg.Window),
		params:  params,
		handler: handler,
		metrics: sc.Metrics,
		logger:  logger.With("component", "transcription", "language", params.Language),
	}
	c.sess = session.New(protocol{params: params}, signer, dialer, observer{c}, sc, logger)
	return c
}

func (c *Client) Open(ctx context.Context) error {
	return c.sess.Open(ctx)
}

// SendAudio forwards 16 kHz mono PCM as-is.
func (c *Client) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.sess.Send(session.Audio(pcm, false))
}

func (c *Client) EndStream() error {
	return c.sess.Send(session.Audio(nil, true))
}

func (c *Client) Text() string {
	return c.asm.Text()
}

func (c *Client) Params() Params {
	return c.params
}

func (c *Client) State() session.State {
	return c.sess.State()
}

func (c *Client) SessionID() string {
	return c.sess.SessionID()
}

func (c *Client) Close() error {
	return c.sess.Close()
}

func (c *Client) status() ConnectionStatus {
	return ConnectionStatus{
		Fingerprint: c.params.Fingerprint(),
		Params:      c.params,
		State:       c.sess.State(),
		SessionID:   c.sess.SessionID(),
		CreatedAt:   c.sess.CreatedAt(),
	}
}

type observer struct {
	c *Client
}

func (o observer) OnOpen(sid string) {
	o.c.asm.Reset()
	o.c.handler.OnOpen(sid)
}

func (o observer) OnClose(code int, reason string) {
	o.c.handler.OnClose(code, reason)
}

func (o observer) OnError(err error, sid string) {
	o.c.handler.OnError(err, sid)
}

func (o observer) OnStatusChange(state session.State) {
	o.c.handler.OnStatusChange(state)
}

func (o observer) OnEvent(ev session.Event) {
	if ev.Kind != session.EventResult {
		return
	}
	c := o.c

	if ev.Fragment == nil {
		if ev.Final {
			c.handler.OnResult(c.asm.Text(), true)
		}
		return
	}

	text, accepted := c.asm.Insert(*ev.Fragment)
	c.metrics.Fragment(accepted)
	if !accepted {
		return
	}
	if ev.Translation != "" {
		if th, ok := c.handler.(TranslationHandler); ok {
			th.OnTranslation(ev.Text, ev.Translation)
		}
	}
	c.handler.OnResult(text, ev.Final)
}
