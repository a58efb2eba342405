package recognition

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/pcm"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transcript"
	"github.com/eleven-am/voice-stream/internal/transport"
)

// Client streams one utterance of caller audio and reports the merged
// transcript after every accepted fragment.
type Client struct {
	sess      *session.Session
	asm       *transcript.Assembler
	handler   Handler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	rate      int
	channels  int
	frameSize int

	mu      sync.Mutex
	pending []byte
}

var _ Recognizer = (*Client)(nil)

func New(signer signature.Signer, dialer transport.Dialer, handler Handler, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = inputRate
	}
	if cfg.Session.ActiveState == "" {
		cfg.Session.ActiveState = session.StateRecognizing
	}

	c := &Client{
		asm:       transcript.NewAssembler(cfg.Window),
		handler:   handler,
		metrics:   cfg.Session.Metrics,
		logger:    logger.With("component", "recognition"),
		rate:      cfg.SampleRate,
		channels:  cfg.Channels,
		frameSize: cfg.FrameSize,
	}
	c.sess = session.New(protocol{opts: cfg.Options}, signer, dialer, observer{c}, cfg.Session, logger)
	return c
}

func (c *Client) Open(ctx context.Context) error {
	return c.sess.Open(ctx)
}

// AppendAudio converts caller PCM to 16 kHz mono and sends it in fixed-size
// frames. A partial frame is held until more audio or EndStream arrives.
func (c *Client) AppendAudio(data []byte) error {
	converted := pcm.ToMono16k(data, c.rate, c.channels)

	c.mu.Lock()
	c.pending = append(c.pending, converted...)
	var frames [][]byte
	for len(c.pending) >= c.frameSize {
		frames = append(frames, c.pending[:c.frameSize:c.frameSize])
		c.pending = c.pending[c.frameSize:]
	}
	c.mu.Unlock()

	for _, f := range frames {
		if err := c.sess.Send(session.Audio(f, false)); err != nil {
			return err
		}
	}
	return nil
}

// EndStream sends any held audio followed by the end-of-stream marker.
func (c *Client) EndStream() error {
	c.mu.Lock()
	rest := c.pending
	c.pending = nil
	c.mu.Unlock()

	return c.sess.Send(session.Audio(rest, true))
}

// Text returns the current merged transcript.
func (c *Client) Text() string {
	return c.asm.Text()
}

func (c *Client) State() session.State {
	return c.sess.State()
}

func (c *Client) SessionID() string {
	return c.sess.SessionID()
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return c.sess.Close()
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
		c.logger.Debug("stale fragment ignored", "sn", ev.Fragment.SN)
		if ev.Final {
			c.handler.OnResult(c.asm.Text(), true)
		}
		return
	}
	c.handler.OnResult(text, ev.Final)
}
