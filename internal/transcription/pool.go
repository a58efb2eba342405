package transcription

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transport"
	"golang.org/x/sync/singleflight"
)

// StatusNone is reported for parameters with no pooled connection.
const StatusNone = "none"

var ErrPoolClosed = errors.New("transcription pool closed")

// Pool shares one live transcription connection per parameter fingerprint.
// Concurrent acquires for the same parameters open a single connection.
type Pool struct {
	signer  signature.Signer
	dialer  transport.Dialer
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	group  singleflight.Group
	mu     sync.Mutex
	conns  map[string]*Client
	closed bool
}

func NewPool(signer signature.Signer, dialer transport.Dialer, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Session.Metrics == nil {
		cfg.Session.Metrics = m
	}
	return &Pool{
		signer:  signer,
		dialer:  dialer,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "transcription_pool"),
		conns:   make(map[string]*Client),
	}
}

// Acquire returns the pooled connection for params, opening one if none is
// live. The handler and ctx of the caller that opens the connection are the
// ones it keeps.
func (p *Pool) Acquire(ctx context.Context, params Params, h Handler) (*Client, error) {
	key := params.Fingerprint()
	if c, err := p.lookup(key, false); c != nil || err != nil {
		return c, err
	}

	v, err, shared := p.group.Do(key, func() (any, error) {
		if c, err := p.lookup(key, true); c != nil || err != nil {
			return c, err
		}

		c := New(p.signer, p.dialer, params, h, p.cfg, p.logger)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		p.conns[key] = c
		p.metrics.SetPooled(len(p.conns))
		p.mu.Unlock()

		if err := c.Open(ctx); err != nil {
			p.remove(key, c)
			_ = c.Close()
			return nil, err
		}
		p.logger.Info("transcription connection opened", "fingerprint", key, "sid", c.SessionID())
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.logger.Debug("joined in-flight open", "fingerprint", key)
	}
	return v.(*Client), nil
}

// lookup returns the live connection for key. A pooled connection that is
// still opening is left for the open in flight. With evict set, which only
// the caller running the open for key may do, a pooled connection that is
// not live is removed and closed.
func (p *Pool) lookup(key string, evict bool) (*Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	c, ok := p.conns[key]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	if reusable(c.State()) {
		p.mu.Unlock()
		return c, nil
	}
	if !evict {
		p.mu.Unlock()
		return nil, nil
	}
	delete(p.conns, key)
	p.metrics.SetPooled(len(p.conns))
	p.mu.Unlock()

	p.discard(key, c)
	return nil, nil
}

func reusable(s session.State) bool {
	return s.Active()
}

// discard closes a connection already removed from the pool so a pending
// reconnect cannot revive it.
func (p *Pool) discard(key string, c *Client) {
	if err := c.Close(); err != nil {
		p.logger.Warn("close discarded connection", "fingerprint", key, "error", err)
	}
}

func (p *Pool) remove(key string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[key] == c {
		delete(p.conns, key)
		p.metrics.SetPooled(len(p.conns))
	}
}

// Release closes and forgets the connection for params. It reports whether
// one was pooled.
func (p *Pool) Release(params Params) bool {
	key := params.Fingerprint()
	p.mu.Lock()
	c, ok := p.conns[key]
	delete(p.conns, key)
	p.metrics.SetPooled(len(p.conns))
	p.mu.Unlock()

	if !ok {
		return false
	}
	if err := c.Close(); err != nil {
		p.logger.Warn("close pooled connection", "fingerprint", key, "error", err)
	}
	return true
}

// Status is the state of the pooled connection for params, or StatusNone.
func (p *Pool) Status(params Params) string {
	p.mu.Lock()
	c, ok := p.conns[params.Fingerprint()]
	p.mu.Unlock()
	if !ok {
		return StatusNone
	}
	return c.State().String()
}

func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Cleanup drops connections that have closed or failed and returns how many
// were removed.
func (p *Pool) Cleanup() int {
	p.mu.Lock()
	removed := make(map[string]*Client)
	for key, c := range p.conns {
		if dead(c.State()) {
			delete(p.conns, key)
			removed[key] = c
		}
	}
	remaining := len(p.conns)
	if len(removed) > 0 {
		p.metrics.SetPooled(remaining)
	}
	p.mu.Unlock()

	for key, c := range removed {
		p.discard(key, c)
	}
	if len(removed) > 0 {
		p.logger.Debug("pool cleanup", "removed", len(removed), "remaining", remaining)
	}
	return len(removed)
}

func dead(s session.State) bool {
	return s == session.StateClosed || s == session.StateError
}

// Statuses lists every pooled connection ordered by fingerprint.
func (p *Pool) Statuses() []ConnectionStatus {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.conns))
	for _, c := range p.conns {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	out := make([]ConnectionStatus, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.status())
	}
	slices.SortFunc(out, func(a, b ConnectionStatus) int {
		return strings.Compare(a.Fingerprint, b.Fingerprint)
	})
	return out
}

// CloseAll closes every pooled connection. Later acquires fail.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = make(map[string]*Client)
	p.metrics.SetPooled(0)
	p.mu.Unlock()

	var errs []error
	for key, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
			p.logger.Warn("close pooled connection", "fingerprint", key, "error", err)
		}
	}
	return errors.Join(errs...)
}
