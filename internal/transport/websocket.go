package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024 * 1024
	dialTimeout    = 10 * time.Second
)

type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

type WebSocketDialer struct {
	dialer    *websocket.Dialer
	readLimit int64
	logger    *slog.Logger
}

func NewWebSocketDialer(cfg WebSocketConfig, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = dialTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = maxMessageSize
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		readLimit: cfg.ReadLimit,
		logger:    logger.With("component", "websocket"),
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", redactURL(rawURL), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", redactURL(rawURL), err)
	}
	ws.SetReadLimit(d.readLimit)
	d.logger.Debug("websocket connected", "host", ws.RemoteAddr().String())
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	local     atomic.Pointer[CloseError]
}

func (c *wsConn) Send(ctx context.Context, msg Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	msgType := websocket.TextMessage
	if msg.Type == BinaryMessage {
		msgType = websocket.BinaryMessage
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(msgType, msg.Data)
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if local := c.local.Load(); local != nil {
			return Message{}, local
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return Message{}, &CloseError{Code: ce.Code, Reason: ce.Text, Clean: IsCleanCode(ce.Code)}
		}
		return Message{}, &CloseError{Code: CloseAbnormal, Reason: err.Error()}
	}
	if msgType == websocket.BinaryMessage {
		return Binary(data), nil
	}
	return Text(data), nil
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.local.Store(&CloseError{Code: code, Reason: reason, Clean: true})
		c.closed.Store(true)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// redactURL drops the query string, which carries the request signature.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}
