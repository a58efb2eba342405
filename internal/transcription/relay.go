package transcription

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	MessageResult      = "result"
	MessageTranslation = "translation"
	MessageError       = "error"
	MessageClosed      = "closed"
)

// StreamMessage is what a streaming caller receives as a text frame.
type StreamMessage struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Final       bool   `json:"final,omitempty"`
	Translation string `json:"translation,omitempty"`
	Code        int    `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

type controlMessage struct {
	End bool `json:"end"`
}

// relay connects one websocket caller to a pooled transcription client.
// Binary frames are 16 kHz mono PCM; a text frame {"end":true} ends the
// audio stream.
type relay struct {
	session.NopHandler
	ws     *websocket.Conn
	logger *slog.Logger
	send   chan StreamMessage

	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	upstream   chan struct{}
	upstreamMu sync.Once
}

func newRelay(ws *websocket.Conn, logger *slog.Logger) *relay {
	return &relay{
		ws:       ws,
		logger:   logger,
		send:     make(chan StreamMessage, sendBuffer),
		done:     make(chan struct{}),
		upstream: make(chan struct{}),
	}
}

func (r *relay) OnResult(text string, isFinal bool) {
	r.push(StreamMessage{Type: MessageResult, Text: text, Final: isFinal})
}

func (r *relay) OnTranslation(source, translated string) {
	r.push(StreamMessage{Type: MessageTranslation, Text: source, Translation: translated})
}

func (r *relay) OnError(err error, sid string) {
	msg := StreamMessage{Type: MessageError, Message: err.Error(), SessionID: sid}
	var se *shared.Error
	if errors.As(err, &se) {
		msg.Code = se.Code
	}
	r.push(msg)
}

func (r *relay) OnClose(code int, reason string) {
	r.push(StreamMessage{Type: MessageClosed, Code: code, Message: reason})
	r.upstreamMu.Do(func() { close(r.upstream) })
}

func (r *relay) push(msg StreamMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.send <- msg:
	default:
		r.logger.Warn("send buffer full, dropping message", "type", msg.Type)
	}
}

func (r *relay) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()
	_ = r.ws.Close()
}

func (r *relay) readPump(client *Client) {
	defer r.close()

	r.ws.SetReadLimit(maxMessageSize)
	_ = r.ws.SetReadDeadline(time.Now().Add(pongWait))
	r.ws.SetPongHandler(func(string) error {
		_ = r.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := r.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			err = client.SendAudio(data)
		case websocket.TextMessage:
			var ctl controlMessage
			if jerr := json.Unmarshal(data, &ctl); jerr != nil || !ctl.End {
				r.push(StreamMessage{Type: MessageError, Message: "unknown control message"})
				continue
			}
			err = client.EndStream()
		}
		if err != nil {
			r.logger.Debug("forward to transcription failed", "error", err)
			r.push(StreamMessage{Type: MessageError, Message: err.Error()})
		}
	}
}

func (r *relay) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		r.close()
	}()

	for {
		select {
		case msg := <-r.send:
			if !r.write(msg) {
				return
			}
		case <-ticker.C:
			_ = r.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.upstream:
			r.flush()
			_ = r.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = r.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "transcription closed"))
			return
		case <-r.done:
			return
		}
	}
}

func (r *relay) flush() {
	for {
		select {
		case msg := <-r.send:
			if !r.write(msg) {
				return
			}
		default:
			return
		}
	}
}

func (r *relay) write(msg StreamMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal message", "error", err)
		return true
	}
	_ = r.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := r.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		r.logger.Debug("websocket write error", "error", err)
		return false
	}
	return true
}

// HandleStream upgrades to a websocket and relays audio to a pooled
// transcription connection keyed by the query parameters. One stream per
// target at a time.
func (h *ConnectionsHandler) HandleStream(c echo.Context) error {
	params := h.paramsFromQuery(c)
	if params.Target == "" {
		return shared.BadRequest("missing_target", "target query parameter is required")
	}
	key := params.Fingerprint()
	if !h.claim(key) {
		return shared.NewAPIError("stream_active", "A stream for this target is already active").ToHTTP(http.StatusConflict)
	}
	defer h.unclaim(key)

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	logger := h.logger.With("target", params.Target)
	r := newRelay(ws, logger)
	client, err := h.pool.Acquire(c.Request().Context(), params, r)
	if err != nil {
		logger.Warn("transcription unavailable", "error", err)
		r.OnError(err, "")
		r.flush()
		r.close()
		return nil
	}

	logger.Info("stream started", "session_id", client.SessionID())
	go r.writePump()
	r.readPump(client)

	h.pool.Release(params)
	logger.Info("stream ended", "session_id", client.SessionID())
	return nil
}

func (h *ConnectionsHandler) claim(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[key] {
		return false
	}
	h.streams[key] = true
	return true
}

func (h *ConnectionsHandler) unclaim(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, key)
}
