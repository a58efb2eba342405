package session

import (
	"fmt"
	"time"

	"github.com/eleven-am/voice-stream/internal/shared"
)

// watchdog force-closes a session whose caller stopped feeding audio without
// ending the stream, and warns when the remote goes quiet.
func (s *Session) watchdog(l *link) {
	ticker := s.clock.Ticker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.link != l || !s.state.Active() || s.ended {
			s.mu.Unlock()
			continue
		}
		now := s.clock.Now()
		ref := s.lastSent
		if ref.IsZero() {
			ref = s.openedAt
		}
		idle := now.Sub(ref)
		silent := now.Sub(s.lastReceived)
		s.mu.Unlock()

		if s.cfg.SilenceWarning > 0 {
			if silent > s.cfg.SilenceWarning && !warned {
				s.logger.Warn("no message from remote", "silent_for", silent)
				warned = true
			} else if silent <= s.cfg.SilenceWarning {
				warned = false
			}
		}

		if s.cfg.IdleTimeout > 0 && idle > s.cfg.IdleTimeout {
			s.logger.Warn("no audio sent, closing session", "idle_for", idle)
			s.fail(l, shared.NewError(shared.KindTransport,
				fmt.Sprintf("no audio sent for %s", idle.Truncate(time.Second)), nil))
			return
		}
	}
}

func (s *Session) keepAlive(l *link, ka KeepAliver) {
	ticker := s.clock.Ticker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		send := s.link == l && s.readyLocked() && (s.cfg.KeepAliveIdle || s.sentAny)
		sig := s.sig
		s.mu.Unlock()
		if !send {
			continue
		}

		msg, err := ka.KeepAlive(sig)
		if err != nil {
			s.logger.Warn("encode keepalive failed", "error", err)
			continue
		}
		s.sendMu.Lock()
		err = l.conn.Send(l.ctx, msg)
		s.sendMu.Unlock()
		if err != nil {
			s.logger.Debug("keepalive send failed", "error", err)
		}
	}
}
