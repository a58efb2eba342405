package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/voice-stream/internal/pcm"
	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transport"
)

var ErrInputEnded = errors.New("text input already ended")

// Client drives one synthesis exchange, either one-shot (Speak) or
// streaming (Start, AppendText, EndText), and plays the returned audio on
// the shared output device.
type Client struct {
	sess    *session.Session
	handler Handler
	level   LevelHandler
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger

	mu              sync.Mutex
	sched           *playback.Scheduler
	acquired        bool
	started         bool
	textEnded       bool
	transportClosed bool
	autoEnd         *clock.Timer
	failure         error

	done     chan struct{}
	doneOnce sync.Once
}

var _ Synthesizer = (*Client)(nil)

func New(signer signature.Signer, dialer transport.Dialer, handler Handler, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Business = cfg.Business.withDefaults()
	if cfg.Session.ActiveState == "" {
		cfg.Session.ActiveState = session.StateSynthesizing
	}
	if cfg.Session.KeepAlive == 0 {
		cfg.Session.KeepAlive = DefaultKeepAlive
	}
	if cfg.Session.Clock == nil {
		cfg.Session.Clock = clock.New()
	}
	if cfg.AutoEnd > 0 && cfg.AutoEnd < minAutoEnd {
		cfg.AutoEnd = minAutoEnd
	}

	c := &Client{
		handler: handler,
		cfg:     cfg,
		clock:   cfg.Session.Clock,
		logger:  logger.With("component", "synthesis", "voice", cfg.Business.Vcn),
		done:    make(chan struct{}),
	}
	if lh, ok := handler.(LevelHandler); ok {
		c.level = lh
	}
	c.sess = session.New(protocol{business: cfg.Business}, signer, dialer, observer{c}, cfg.Session, logger)
	return c
}

// Start opens the connection for streaming text input.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return shared.ErrAlreadyOpen
	}
	c.started = true
	c.mu.Unlock()

	if err := c.startPlayback(); err != nil {
		c.mu.Lock()
		c.failure = err
		c.mu.Unlock()
		c.finish(false)
		return err
	}
	if err := c.sess.Open(ctx); err != nil {
		c.mu.Lock()
		if c.failure == nil {
			c.failure = err
		}
		c.mu.Unlock()
		c.finish(false)
		return err
	}
	return nil
}

func (c *Client) startPlayback() error {
	if c.cfg.Device == nil {
		return nil
	}
	sink, err := c.cfg.Device.Acquire()
	if err != nil {
		return shared.NewError(shared.KindPlayback, "acquire output device", err)
	}

	mode := playback.ModeRaw
	if c.cfg.Business.Compressed() {
		mode = playback.ModeCompressed
	}
	sched, err := playback.New(sink, playback.Config{
		Mode:       mode,
		SampleRate: c.cfg.Business.SampleRate(),
		Ahead:      c.cfg.Ahead,
		BatchSize:  c.cfg.BatchSize,
		Volume:     c.cfg.Volume,
		Metrics:    c.cfg.Session.Metrics,
		OnComplete: func() { c.finish(true) },
		OnChunk:    c.onChunk,
	}, c.logger)
	if err != nil {
		c.cfg.Device.Release()
		return shared.NewError(shared.KindPlayback, "start playback", err)
	}

	c.mu.Lock()
	c.sched = sched
	c.acquired = true
	c.mu.Unlock()
	return nil
}

// Speak synthesizes text in a single request. It returns once the request
// is sent; use Wait or the handler's OnComplete for the end of playback.
func (c *Client) Speak(ctx context.Context, text string) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.textEnded = true
	c.mu.Unlock()

	err := c.sess.Send(session.Text(text, true))
	c.inputEnded()
	return err
}

func (c *Client) AppendText(text string) error {
	c.mu.Lock()
	if c.textEnded {
		c.mu.Unlock()
		return ErrInputEnded
	}
	c.resetAutoEndLocked()
	c.mu.Unlock()

	return c.sess.Send(session.Text(text, false))
}

// EndText signals that no more text follows. Repeated calls are no-ops.
func (c *Client) EndText() error {
	c.mu.Lock()
	if c.textEnded {
		c.mu.Unlock()
		return nil
	}
	c.textEnded = true
	if c.autoEnd != nil {
		c.autoEnd.Stop()
		c.autoEnd = nil
	}
	c.mu.Unlock()

	err := c.sess.Send(session.Text("", true))
	c.inputEnded()
	return err
}

func (c *Client) resetAutoEndLocked() {
	if c.cfg.AutoEnd <= 0 {
		return
	}
	if c.autoEnd != nil {
		c.autoEnd.Stop()
	}
	c.autoEnd = c.clock.AfterFunc(c.cfg.AutoEnd, c.autoEndFired)
}

func (c *Client) autoEndFired() {
	state := c.sess.State()
	if !state.Active() {
		return
	}
	if err := c.EndText(); err != nil {
		c.logger.Warn("auto end failed", "error", err)
		return
	}
	c.logger.Info("text input ended after inactivity", "after", c.cfg.AutoEnd)
}

func (c *Client) inputEnded() {
	if sched := c.scheduler(); sched != nil {
		sched.EndInput()
		return
	}
	c.checkCompletion()
}

// checkCompletion finishes a client without playback once the transport has
// closed and input has ended.
func (c *Client) checkCompletion() {
	c.mu.Lock()
	ready := c.transportClosed && c.textEnded && c.failure == nil && c.sched == nil
	c.mu.Unlock()
	if ready {
		c.finish(true)
	}
}

func (c *Client) scheduler() *playback.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched
}

func (c *Client) onChunk(samples []float32) {
	if c.level != nil {
		c.level.OnLevel(pcm.Level(samples))
	}
}

// Pause stops the chunk that is playing and holds the rest.
func (c *Client) Pause() {
	if sched := c.scheduler(); sched != nil {
		sched.Pause()
	}
}

func (c *Client) Resume() {
	if sched := c.scheduler(); sched != nil {
		sched.Resume()
	}
}

// SetVolume sets the local playback gain, clamped to [0, 1].
func (c *Client) SetVolume(v float64) {
	if sched := c.scheduler(); sched != nil {
		sched.SetVolume(v)
	}
}

func (c *Client) State() session.State {
	return c.sess.State()
}

func (c *Client) SessionID() string {
	return c.sess.SessionID()
}

// Done is closed when playback completed, the session failed or the client
// was closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until Done and returns the failure that ended the session, if
// any.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.failure
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops synthesis and playback. OnComplete is not fired.
func (c *Client) Close() error {
	c.mu.Lock()
	c.textEnded = true
	c.mu.Unlock()

	err := c.sess.Close()
	c.finish(false)
	return err
}

func (c *Client) finish(complete bool) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		sched := c.sched
		c.sched = nil
		acquired := c.acquired
		c.acquired = false
		if c.autoEnd != nil {
			c.autoEnd.Stop()
			c.autoEnd = nil
		}
		c.mu.Unlock()

		if sched != nil {
			sched.Close()
		}
		if acquired {
			c.cfg.Device.Release()
		}
		close(c.done)
		if complete {
			c.logger.Debug("synthesis complete")
			c.handler.OnComplete()
		}
	})
}

type observer struct {
	c *Client
}

func (o observer) OnOpen(sid string) {
	o.c.handler.OnOpen(sid)
}

func (o observer) OnStatusChange(state session.State) {
	o.c.handler.OnStatusChange(state)
}

func (o observer) OnError(err error, sid string) {
	o.c.mu.Lock()
	if o.c.failure == nil {
		o.c.failure = err
	}
	o.c.mu.Unlock()
	o.c.handler.OnError(err, sid)
}

func (o observer) OnClose(code int, reason string) {
	c := o.c
	c.mu.Lock()
	c.transportClosed = true
	sched := c.sched
	failed := c.failure != nil
	c.mu.Unlock()

	c.handler.OnClose(code, reason)
	switch {
	case failed:
		c.finish(false)
	case sched != nil:
		sched.TransportClosed()
	default:
		c.checkCompletion()
	}
}

func (o observer) OnEvent(ev session.Event) {
	if ev.Kind != session.EventAudio || len(ev.Audio) == 0 {
		return
	}
	c := o.c
	c.handler.OnAudio(ev.Audio)

	if sched := c.scheduler(); sched != nil {
		sched.Enqueue(ev.Audio)
		return
	}
	if c.level != nil && !c.cfg.Business.Compressed() {
		c.level.OnLevel(pcm.Level(pcm.ToFloat32(pcm.Decode(ev.Audio))))
	}
}
