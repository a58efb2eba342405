package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transport"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultWatchdogInterval = 10 * time.Second
	minKeepAlive            = time.Second
)

type Config struct {
	Backoff          shared.BackoffConfig
	HandshakeTimeout time.Duration
	// IdleTimeout force-closes an open session that has not sent audio for
	// this long. Zero disables the watchdog.
	IdleTimeout      time.Duration
	WatchdogInterval time.Duration
	// SilenceWarning logs when nothing has been received for this long.
	SilenceWarning time.Duration
	KeepAlive      time.Duration
	// KeepAliveIdle sends keepalives before the caller has sent anything.
	KeepAliveIdle bool
	// ActiveState is entered on the first result or audio payload.
	ActiveState State
	OnRetry     func(attempt int, delay time.Duration)
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

func normalizeConfig(cfg Config) Config {
	cfg.Backoff = shared.NormalizeBackoff(cfg.Backoff)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = defaultWatchdogInterval
	}
	if cfg.KeepAlive > 0 && cfg.KeepAlive < minKeepAlive {
		cfg.KeepAlive = minKeepAlive
	}
	if cfg.ActiveState == "" {
		cfg.ActiveState = StateOpen
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return cfg
}

// link is one transport connection attempt. ready and closed are guarded by
// Session.mu.
type link struct {
	conn     transport.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	ready    bool
	closed   bool
	closeErr *transport.CloseError
	ack      chan struct{}
	ackOnce  sync.Once
	done     chan struct{}
}

// Session owns one logical exchange with the remote service: signing,
// connecting, handshake, outbound buffering, inbound dispatch, reconnection
// and teardown.
type Session struct {
	id      string
	proto   Protocol
	signer  signature.Signer
	dialer  transport.Dialer
	obs     Observer
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	purpose string

	sendMu sync.Mutex

	mu             sync.Mutex
	state          State
	sid            string
	sig            *signature.Signature
	link           *link
	queue          Queue
	retries        int
	ended          bool
	sentAny        bool
	closeRequested bool
	terminal       bool
	errReported    bool
	pendingErr     *shared.Error
	lastEvent      string
	lastSent       time.Time
	lastReceived   time.Time
	openedAt       time.Time
	createdAt      time.Time
	reconnectTimer *clock.Timer
	lifeCtx        context.Context
	lifeCancel     context.CancelFunc
}

func New(proto Protocol, signer signature.Signer, dialer transport.Dialer, obs Observer, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = normalizeConfig(cfg)
	id := shared.NewID("sess_")
	lifeCtx, lifeCancel := context.WithCancel(context.Background())

	return &Session{
		id:         id,
		proto:      proto,
		signer:     signer,
		dialer:     dialer,
		obs:        obs,
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     logger.With("session", id, "purpose", proto.Purpose().String()),
		metrics:    cfg.Metrics,
		purpose:    proto.Purpose().String(),
		state:      StateIdle,
		createdAt:  cfg.Clock.Now(),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

// SessionID is the identifier assigned by the remote side. It is empty until
// the first message carrying it arrives.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

func (s *Session) AppID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sig == nil {
		return ""
	}
	return s.sig.AppID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Open signs, connects and, for protocols that need it, waits for the
// remote acknowledgment. A failed Open is not retried automatically.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	reopen := s.state == StateClosed || s.state == StateError
	if s.state != StateIdle && !(reopen && s.terminal) {
		s.mu.Unlock()
		return shared.ErrAlreadyOpen
	}
	if reopen {
		s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
		s.queue.Clear()
	}
	s.retries = 0
	s.ended = false
	s.sentAny = false
	s.closeRequested = false
	s.terminal = false
	s.errReported = false
	s.pendingErr = nil
	s.sid = ""
	s.state = StateConnecting
	s.mu.Unlock()

	err := s.connect(ctx)
	if err == nil || errors.Is(err, shared.ErrSessionClosed) {
		return err
	}

	se := asError(err)
	s.mu.Lock()
	changed := s.state != StateError
	s.terminal = true
	s.state = StateError
	s.mu.Unlock()
	if changed {
		s.notify(StateError)
	}
	s.reportError(se)
	return se
}

func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closeRequested {
		s.mu.Unlock()
		return shared.ErrSessionClosed
	}
	s.state = StateConnecting
	life := s.lifeCtx
	s.mu.Unlock()
	s.notify(StateConnecting)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	sig, err := s.signer.Sign(ctx, s.proto.Purpose())
	if err != nil {
		if s.isCloseRequested() {
			return shared.ErrSessionClosed
		}
		var se *shared.Error
		if errors.As(err, &se) && se.Kind == shared.KindAuth {
			return se
		}
		return shared.NewError(shared.KindAuth, "signature request failed", err)
	}
	if sig.AppID == "" {
		return shared.NewError(shared.KindHandshake, "signature has no application id", nil)
	}

	target := sig.URL
	if b, ok := s.proto.(URLBuilder); ok {
		if target, err = b.DialURL(sig); err != nil {
			return shared.NewError(shared.KindHandshake, "build connection url", err)
		}
	}

	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		if s.isCloseRequested() {
			return shared.ErrSessionClosed
		}
		return shared.NewError(shared.KindTransport, "dial failed", err)
	}

	linkCtx, linkCancel := context.WithCancel(life)
	l := &link{conn: conn, ctx: linkCtx, cancel: linkCancel, done: make(chan struct{})}
	if s.proto.RequiresAck() {
		l.ack = make(chan struct{})
	}

	s.mu.Lock()
	if s.closeRequested {
		s.mu.Unlock()
		linkCancel()
		_ = conn.Close(transport.CloseNormal, "session closed")
		return shared.ErrSessionClosed
	}
	s.link = l
	s.sig = sig
	s.lastReceived = s.clock.Now()
	s.mu.Unlock()

	msgs, err := s.proto.Handshake(sig)
	if err != nil {
		s.abandon(l)
		return shared.NewError(shared.KindProtocol, "encode handshake", err)
	}
	for _, m := range msgs {
		if err := conn.Send(ctx, m); err != nil {
			s.abandon(l)
			return shared.NewError(shared.KindTransport, "send handshake", err)
		}
	}

	go s.readLoop(l)

	if l.ack != nil {
		timer := s.clock.Timer(s.cfg.HandshakeTimeout)
		defer timer.Stop()

		select {
		case <-l.ack:
		case <-l.done:
			return s.linkFailure(l)
		case <-timer.C:
			s.abandon(l)
			return shared.NewError(shared.KindHandshakeTimeout,
				fmt.Sprintf("no acknowledgment within %s", s.cfg.HandshakeTimeout), nil)
		case <-ctx.Done():
			s.abandon(l)
			if s.isCloseRequested() {
				return shared.ErrSessionClosed
			}
			return shared.NewError(shared.KindHandshake, "open cancelled", ctx.Err())
		}
	}

	return s.markReady(l)
}

func (s *Session) markReady(l *link) error {
	s.mu.Lock()
	if s.link != l || s.closeRequested {
		s.mu.Unlock()
		s.abandon(l)
		return shared.ErrSessionClosed
	}
	if l.closed {
		s.mu.Unlock()
		return s.linkFailure(l)
	}
	l.ready = true
	s.state = StateOpen
	s.retries = 0
	s.openedAt = s.clock.Now()
	sid := s.sid
	s.mu.Unlock()

	s.logger.Info("session open", "sid", sid)
	s.metrics.SessionOpened(s.purpose)
	s.notify(StateOpen)
	s.obs.OnOpen(sid)

	if s.cfg.IdleTimeout > 0 || s.cfg.SilenceWarning > 0 {
		go s.watchdog(l)
	}
	if ka, ok := s.proto.(KeepAliver); ok && s.cfg.KeepAlive > 0 {
		go s.keepAlive(l, ka)
	}

	if err := s.flush(); err != nil {
		s.logger.Warn("flush after open failed", "error", err)
	}
	return nil
}

// linkFailure explains why a link closed before becoming ready.
func (s *Session) linkFailure(l *link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == l {
		s.link = nil
	}
	l.cancel()
	if err := s.pendingErr; err != nil {
		s.pendingErr = nil
		return err
	}
	if s.closeRequested {
		return shared.ErrSessionClosed
	}
	ce := l.closeErr
	if ce == nil {
		ce = &transport.CloseError{Code: transport.CloseAbnormal}
	}
	return &shared.Error{
		Kind:      shared.KindTransport,
		Code:      ce.Code,
		Message:   "connection closed during handshake",
		SessionID: s.sid,
		LastEvent: s.lastEvent,
		Err:       ce,
	}
}

func (s *Session) abandon(l *link) {
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
	l.cancel()
	_ = l.conn.Close(transport.CloseNormal, "abandoned")
}

func (s *Session) readLoop(l *link) {
	for {
		msg, err := l.conn.Receive(context.Background())
		if err != nil {
			s.onTransportClosed(l, transport.AsCloseError(err))
			return
		}

		ev, err := s.proto.Decode(msg)
		if err != nil {
			s.fail(l, shared.NewError(shared.KindProtocol, "unparsable message", err))
			continue
		}
		s.dispatch(l, ev)
	}
}

func (s *Session) dispatch(l *link, ev Event) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	if ev.SessionID != "" {
		s.sid = ev.SessionID
	}
	s.lastEvent = ev.Kind.String()
	s.lastReceived = s.clock.Now()

	switch ev.Kind {
	case EventIgnore:
		s.mu.Unlock()
		return

	case EventAck:
		s.mu.Unlock()
		if l.ack != nil {
			l.ackOnce.Do(func() { close(l.ack) })
		}
		return

	case EventFailure:
		se := shared.RemoteFailure(ev.Code, ev.Message, s.sid)
		se.LastEvent = s.lastEvent
		s.pendingErr = se
		if !se.Retryable() {
			s.closeRequested = true
		}
		s.state = StateError
		s.mu.Unlock()

		s.logger.Warn("remote failure", se.Context()...)
		s.notify(StateError)
		if !se.Retryable() {
			s.reportError(se)
		}
		_ = l.conn.Close(transport.CloseNormal, "remote error")
		return
	}

	changed := false
	if s.state == StateOpen && l.ready {
		s.state = s.cfg.ActiveState
		changed = s.state != StateOpen
	}
	active := s.state
	s.mu.Unlock()

	if changed {
		s.notify(active)
	}
	s.obs.OnEvent(ev)

	if ev.Final && !ev.Segment {
		s.finish(l)
	}
}

// finish closes the transport after the remote delivered its last message.
func (s *Session) finish(l *link) {
	s.mu.Lock()
	if s.link != l || s.closeRequested {
		s.mu.Unlock()
		return
	}
	s.closeRequested = true
	s.ended = true
	changed := s.state != StateClosing
	s.state = StateClosing
	s.mu.Unlock()

	if changed {
		s.notify(StateClosing)
	}
	_ = l.conn.Close(transport.CloseNormal, "session complete")
}

// fail terminates the session after a local failure that must not be
// retried.
func (s *Session) fail(l *link, se *shared.Error) {
	s.mu.Lock()
	if s.link != l || s.terminal {
		s.mu.Unlock()
		return
	}
	se.SessionID = s.sid
	se.LastEvent = s.lastEvent
	s.closeRequested = true
	s.pendingErr = se
	s.state = StateError
	s.mu.Unlock()

	s.notify(StateError)
	s.reportError(se)
	_ = l.conn.Close(transport.CloseNormal, se.Message)
}

func (s *Session) onTransportClosed(l *link, ce *transport.CloseError) {
	s.mu.Lock()
	l.closed = true
	l.closeErr = ce
	if !l.ready {
		s.mu.Unlock()
		close(l.done)
		return
	}
	close(l.done)
	if s.link != l || s.terminal {
		s.mu.Unlock()
		return
	}
	s.link = nil
	l.cancel()

	cause := s.pendingErr
	s.pendingErr = nil
	if cause == nil && !s.closeRequested && !ce.Clean {
		reason := ce.Reason
		if reason == "" {
			reason = "connection lost"
		}
		cause = &shared.Error{
			Kind:      shared.KindTransport,
			Code:      ce.Code,
			Message:   reason,
			SessionID: s.sid,
			LastEvent: s.lastEvent,
		}
	}
	s.mu.Unlock()

	s.settle(cause, ce.Code, ce.Reason)
}

// settle either schedules a reconnect for a retryable cause or moves the
// session to its terminal state.
func (s *Session) settle(cause *shared.Error, code int, reason string) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}

	if cause != nil && !s.closeRequested && cause.Retryable() &&
		shared.ShouldRetry(s.retries, false, s.cfg.Backoff) {
		s.retries++
		attempt := s.retries
		delay := shared.ComputeDelay(attempt, s.cfg.Backoff)
		s.reconnectTimer = s.clock.AfterFunc(delay, s.reconnect)
		s.state = StateClosed
		s.mu.Unlock()

		s.logger.Warn("connection lost, reconnecting",
			"attempt", attempt,
			"max_attempts", s.cfg.Backoff.MaxAttempts,
			"delay", delay,
			"error", cause)
		s.notify(StateClosed)
		if s.cfg.OnRetry != nil {
			s.cfg.OnRetry(attempt, delay)
		}
		return
	}

	s.terminal = true
	s.retries = 0
	s.ended = true
	s.queue.Clear()
	if s.state != StateError {
		s.state = StateClosed
	}
	final := s.state
	s.mu.Unlock()
	s.lifeCancel()

	if cause != nil {
		s.reportError(cause)
	}
	s.logger.Info("session closed", "code", code, "reason", reason, "state", final)
	s.metrics.SessionClosed(s.purpose)
	s.notify(final)
	s.obs.OnClose(code, reason)
}

func (s *Session) reconnect() {
	s.mu.Lock()
	s.reconnectTimer = nil
	if s.closeRequested || s.terminal {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.metrics.Reconnect(s.purpose)
	err := s.connect(context.Background())
	if err == nil || errors.Is(err, shared.ErrSessionClosed) {
		return
	}
	se := asError(err)
	s.logger.Warn("reconnect attempt failed", "error", se)
	s.settle(se, transport.CloseAbnormal, se.Message)
}

// Send transmits u if the session is ready and queues it otherwise. After an
// end-of-stream unit every further call is a no-op; after termination units
// are dropped.
func (s *Session) Send(u Unit) error {
	s.mu.Lock()
	if s.ended || s.terminal || s.closeRequested {
		s.mu.Unlock()
		return nil
	}
	if u.EndOfStream {
		s.ended = true
	}
	s.queue.Push(u)
	ready := s.readyLocked()
	s.mu.Unlock()

	if !ready {
		return nil
	}
	return s.flush()
}

func (s *Session) readyLocked() bool {
	return s.link != nil && s.link.ready && !s.link.closed &&
		!s.closeRequested && s.state != StateError
}

func (s *Session) flush() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for {
		s.mu.Lock()
		if !s.readyLocked() {
			s.mu.Unlock()
			return nil
		}
		u, ok := s.queue.Pop()
		l, sig := s.link, s.sig
		s.mu.Unlock()
		if !ok {
			return nil
		}

		if err := s.transmit(l, sig, u); err != nil {
			return err
		}
	}
}

func (s *Session) transmit(l *link, sig *signature.Signature, u Unit) error {
	msgs, err := s.proto.Encode(sig, u)
	if err != nil {
		s.logger.Warn("dropping unit that failed to encode", "error", err)
		return fmt.Errorf("encode unit: %w", err)
	}
	for _, m := range msgs {
		if err := l.conn.Send(l.ctx, m); err != nil {
			s.mu.Lock()
			s.queue.PushFront(u)
			s.mu.Unlock()
			return shared.NewError(shared.KindTransport, "send failed", err)
		}
	}

	s.mu.Lock()
	s.sentAny = true
	if u.Kind == UnitAudio && len(u.Audio) > 0 {
		s.lastSent = s.clock.Now()
	}
	changed := false
	if u.EndOfStream && s.state != StateError && s.state != StateClosing {
		s.state = StateClosing
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify(StateClosing)
	}
	return nil
}

// Close tears the session down from any state. Timers stop and queued units
// are discarded before it returns; OnClose follows once the transport has
// closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return nil
	}
	s.closeRequested = true
	s.ended = true
	dropped := s.queue.Clear()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	l := s.link
	if l == nil || !l.ready || l.closed {
		s.terminal = true
		s.retries = 0
		s.link = nil
		s.state = StateClosed
		s.mu.Unlock()

		s.lifeCancel()
		if l != nil {
			l.cancel()
			_ = l.conn.Close(transport.CloseNormal, "client closed")
		}
		s.logger.Info("session closed", "dropped_units", dropped)
		s.metrics.SessionClosed(s.purpose)
		s.notify(StateClosed)
		s.obs.OnClose(transport.CloseNormal, "client closed")
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	l.cancel()
	s.lifeCancel()
	s.notify(StateClosing)
	if dropped > 0 {
		s.logger.Debug("discarded queued units", "count", dropped)
	}
	return l.conn.Close(transport.CloseNormal, "client closed")
}

func (s *Session) isCloseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRequested
}

func (s *Session) reportError(se *shared.Error) {
	s.mu.Lock()
	if s.errReported {
		s.mu.Unlock()
		return
	}
	s.errReported = true
	if se.SessionID == "" {
		se.SessionID = s.sid
	}
	sid := s.sid
	s.mu.Unlock()

	s.logger.Error("session failed", se.Context()...)
	s.metrics.Error(string(se.Kind))
	s.obs.OnError(se, sid)
}

func (s *Session) notify(state State) {
	s.logger.Debug("state changed", "state", state)
	s.obs.OnStatusChange(state)
}

func asError(err error) *shared.Error {
	var se *shared.Error
	if errors.As(err, &se) {
		return se
	}
	return shared.NewError(shared.KindTransport, "connection failed", err)
}
