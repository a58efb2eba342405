package transcription

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eleven-am/voice-stream/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func newStreamServer(t *testing.T, pool *Pool) (*ConnectionsHandler, string) {
	t.Helper()
	e := echo.New()
	h := NewConnectionsHandler(pool, Params{Language: "en_us"}, testLogger())
	h.RegisterRoutes(e.Group("/api/v1/transcription"))
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return h, "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/transcription/stream"
}

func activeStreams(h *ConnectionsHandler) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func readStream(t *testing.T, ws *websocket.Conn) (StreamMessage, error) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return StreamMessage{}, err
	}
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode stream message %q: %v", data, err)
	}
	return msg, nil
}

func TestHandleStream_RelaysAudioAndResults(t *testing.T) {
	srv := newRemoteServer()
	pool := newTestPool(srv, nil)
	defer pool.CloseAll()
	h, url := newStreamServer(t, pool)

	ws, _, err := websocket.DefaultDialer.Dial(url+"?target=room-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	remote := srv.next(t)

	srv.mu.Lock()
	dialed := srv.urls[0]
	srv.mu.Unlock()
	if !strings.Contains(dialed, "lang=en_us") {
		t.Errorf("default language should reach the dial url, got %q", dialed)
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 1280)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	audio := receive(t, remote)
	if audio.Type != transport.BinaryMessage || len(audio.Data) != 1280 {
		t.Errorf("expected 1280 bytes forwarded, got %s of %d", audio.Type, len(audio.Data))
	}

	send(t, remote, segmentMsg(t, 0, "0", "好"))
	msg, err := readStream(t, ws)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if msg.Type != MessageResult || msg.Text != "好" {
		t.Errorf("unexpected result %+v", msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"end":true}`)); err != nil {
		t.Fatalf("write end: %v", err)
	}
	end := receive(t, remote)
	if string(end.Data) != `{"end":true}` {
		t.Errorf("unexpected end marker %q", end.Data)
	}

	send(t, remote, envelopeMsg(t, map[string]any{"isEnd": true}))
	var final, closed bool
	for !closed {
		msg, err := readStream(t, ws)
		if err != nil {
			t.Fatalf("stream ended before closed message: %v", err)
		}
		switch msg.Type {
		case MessageResult:
			final = final || (msg.Final && msg.Text == "好")
		case MessageClosed:
			closed = true
			if msg.Code != transport.CloseNormal {
				t.Errorf("expected normal close code, got %d", msg.Code)
			}
		}
	}
	if !final {
		t.Error("expected a final result before the closed message")
	}

	_, err = readStream(t, ws)
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
		t.Errorf("expected a normal close frame, got %v", err)
	}
	waitFor(t, "release", func() bool { return pool.Count() == 0 && activeStreams(h) == 0 })
}

func TestHandleStream_RejectsDuplicateTarget(t *testing.T) {
	srv := newRemoteServer()
	pool := newTestPool(srv, nil)
	defer pool.CloseAll()
	h, url := newStreamServer(t, pool)

	first, _, err := websocket.DefaultDialer.Dial(url+"?target=room-2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	srv.next(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?target=room-2", nil)
	if err == nil {
		t.Fatal("second stream for the same target should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %v", resp)
	}

	_ = first.Close()
	waitFor(t, "release", func() bool { return pool.Count() == 0 && activeStreams(h) == 0 })

	again, _, err := websocket.DefaultDialer.Dial(url+"?target=room-2", nil)
	if err != nil {
		t.Fatalf("dial after release: %v", err)
	}
	defer again.Close()
	srv.next(t)
}

func TestHandleStream_RequiresTarget(t *testing.T) {
	h := NewConnectionsHandler(newTestPool(newRemoteServer(), nil), Params{}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()

	err := h.HandleStream(echo.New().NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a target, got %v", err)
	}
}
