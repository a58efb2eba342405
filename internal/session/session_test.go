package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transport"
)

type testProto struct {
	ack bool
}

func (p testProto) Purpose() shared.Purpose { return shared.PurposeRecognition }
func (p testProto) RequiresAck() bool       { return p.ack }

func (p testProto) Handshake(sig *signature.Signature) ([]transport.Message, error) {
	return []transport.Message{transport.Text([]byte("hello " + sig.AppID))}, nil
}

func (p testProto) Encode(sig *signature.Signature, u Unit) ([]transport.Message, error) {
	var msgs []transport.Message
	if len(u.Audio) > 0 {
		msgs = append(msgs, transport.Binary(u.Audio))
	}
	if u.Text != "" {
		msgs = append(msgs, transport.Text([]byte("text:"+u.Text)))
	}
	if u.EndOfStream {
		msgs = append(msgs, transport.Text([]byte("end")))
	}
	return msgs, nil
}

func (p testProto) Decode(msg transport.Message) (Event, error) {
	if msg.Type == transport.BinaryMessage {
		return Event{Kind: EventAudio, Audio: msg.Data}, nil
	}
	text := string(msg.Data)
	switch {
	case text == "ack":
		return Event{Kind: EventAck, SessionID: "sid-1"}, nil
	case text == "final":
		return Event{Kind: EventResult, Text: "done", Final: true}, nil
	case strings.HasPrefix(text, "result:"):
		return Event{Kind: EventResult, Text: strings.TrimPrefix(text, "result:"), SessionID: "sid-2"}, nil
	case strings.HasPrefix(text, "fail:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(text, "fail:"))
		return Event{Kind: EventFailure, Code: code}, nil
	case text == "noop":
		return Event{Kind: EventIgnore}, nil
	}
	return Event{}, fmt.Errorf("unexpected message %q", text)
}

func (p testProto) KeepAlive(sig *signature.Signature) (transport.Message, error) {
	return transport.Text([]byte("ping")), nil
}

type fakeServer struct {
	mu      sync.Mutex
	dials   int
	failFn  func(n int) error
	servers chan *transport.PipeConn
}

func newFakeServer() *fakeServer {
	return &fakeServer{servers: make(chan *transport.PipeConn, 16)}
}

func (f *fakeServer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	f.mu.Lock()
	f.dials++
	n := f.dials
	fn := f.failFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(n); err != nil {
			return nil, err
		}
	}
	client, server := transport.NewPipe()
	f.servers <- server
	return client, nil
}

func (f *fakeServer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeServer) next(t *testing.T) *transport.PipeConn {
	t.Helper()
	select {
	case s := <-f.servers:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

func recv(t *testing.T, c *transport.PipeConn) transport.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive: %v", err)
	}
	return msg
}

type recorder struct {
	mu     sync.Mutex
	calls  []string
	events []Event
	errs   []error
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) OnOpen(sid string) { r.add("open") }
func (r *recorder) OnClose(code int, reason string) {
	r.add("close:" + strconv.Itoa(code))
}
func (r *recorder) OnError(err error, sid string) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	var se *shared.Error
	if errors.As(err, &se) {
		r.add("error:" + string(se.Kind))
		return
	}
	r.add("error")
}
func (r *recorder) OnStatusChange(state State) { r.add("status:" + state.String()) }
func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, c := range r.snapshot() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (r *recorder) index(prefix string) int {
	for i, c := range r.snapshot() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testSigner = signature.Static{URL: "mem://remote", AppID: "app1"}

func TestSession_OpenSendEndOfStream(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{ActiveState: StateRecognizing}, testLogger())

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	remote := srv.next(t)
	if msg := recv(t, remote); string(msg.Data) != "hello app1" {
		t.Errorf("expected handshake frame, got %q", msg.Data)
	}

	for i := 0; i < 3; i++ {
		if err := s.Send(Audio([]byte{byte(i)}, false)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	_ = s.Send(Audio(nil, true))
	_ = s.Send(Audio([]byte{9}, false))

	for i := 0; i < 3; i++ {
		msg := recv(t, remote)
		if msg.Type != transport.BinaryMessage || msg.Data[0] != byte(i) {
			t.Fatalf("frame %d out of order: %+v", i, msg)
		}
	}
	if msg := recv(t, remote); string(msg.Data) != "end" {
		t.Fatalf("expected end marker, got %q", msg.Data)
	}
	if s.State() != StateClosing {
		t.Errorf("expected closing after end of stream, got %s", s.State())
	}

	_ = remote.Send(context.Background(), transport.Text([]byte("final")))

	waitFor(t, "close", func() bool { return rec.count("close:") == 1 })
	if rec.count("error") != 0 {
		t.Errorf("expected no errors, got %v", rec.snapshot())
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}

	rec.mu.Lock()
	finals := 0
	for _, ev := range rec.events {
		if ev.Final {
			finals++
		}
	}
	rec.mu.Unlock()
	if finals != 1 {
		t.Errorf("expected one final event, got %d", finals)
	}
	if srv.dialCount() != 1 {
		t.Errorf("clean close should not reconnect, dials = %d", srv.dialCount())
	}
}

func TestSession_QueuesUntilOpen(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{}, testLogger())

	_ = s.Send(Text("a", false))
	_ = s.Send(Text("b", false))
	if s.Pending() != 2 {
		t.Fatalf("expected 2 queued units, got %d", s.Pending())
	}

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	remote := srv.next(t)
	recv(t, remote)
	if msg := recv(t, remote); string(msg.Data) != "text:a" {
		t.Errorf("expected text:a first, got %q", msg.Data)
	}
	if msg := recv(t, remote); string(msg.Data) != "text:b" {
		t.Errorf("expected text:b second, got %q", msg.Data)
	}
	if s.Pending() != 0 {
		t.Errorf("expected queue drained, got %d", s.Pending())
	}
	_ = s.Close()
}

func TestSession_AckGatesAudio(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{ack: true}, testSigner, srv, rec, Config{}, testLogger())

	_ = s.Send(Audio([]byte{1}, false))

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background()) }()

	remote := srv.next(t)
	if msg := recv(t, remote); string(msg.Data) != "hello app1" {
		t.Fatalf("control frame should not wait for ack, got %q", msg.Data)
	}
	if s.State() != StateConnecting {
		t.Errorf("expected connecting before ack, got %s", s.State())
	}

	_ = remote.Send(context.Background(), transport.Text([]byte("ack")))
	if err := <-opened; err != nil {
		t.Fatalf("Open: %v", err)
	}
	if msg := recv(t, remote); msg.Type != transport.BinaryMessage {
		t.Errorf("expected queued audio after ack, got %+v", msg)
	}
	if s.SessionID() != "sid-1" {
		t.Errorf("expected sid from ack, got %q", s.SessionID())
	}
	_ = s.Close()
}

func TestSession_HandshakeTimeout(t *testing.T) {
	mock := clock.NewMock()
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{ack: true}, testSigner, srv, rec, Config{
		HandshakeTimeout: 3 * time.Second,
		Clock:            mock,
	}, testLogger())

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background()) }()
	srv.next(t)

	var err error
	waitFor(t, "handshake timeout", func() bool {
		select {
		case err = <-opened:
			return true
		default:
			mock.Add(time.Second)
			return false
		}
	})
	if !shared.IsKind(err, shared.KindHandshakeTimeout) {
		t.Fatalf("expected handshake timeout, got %v", err)
	}
	if rec.count("error:handshake_timeout") != 1 {
		t.Errorf("expected one error callback, got %v", rec.snapshot())
	}
	if s.State() != StateError {
		t.Errorf("expected error state, got %s", s.State())
	}
}

func TestSession_ProtocolErrorDuringHandshake(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{ack: true}, testSigner, srv, rec, Config{}, testLogger())

	opened := make(chan error, 1)
	go func() { opened <- s.Open(context.Background()) }()
	server := srv.next(t)
	recv(t, server)
	_ = server.Send(context.Background(), transport.Text([]byte("garbage")))

	var err error
	select {
	case err = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return")
	}
	if !shared.IsKind(err, shared.KindProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if n := rec.count("status:" + StateError.String()); n != 1 {
		t.Errorf("expected one error status change, got %d in %v", n, rec.snapshot())
	}
	if rec.count("error:protocol") != 1 {
		t.Errorf("expected one error callback, got %v", rec.snapshot())
	}
	if s.State() != StateError {
		t.Errorf("expected error state, got %s", s.State())
	}
}

func TestSession_OpenFailures(t *testing.T) {
	tests := []struct {
		name   string
		signer signature.Signer
		dialFn func(int) error
		kind   shared.ErrorKind
	}{
		{
			name:   "missing app id",
			signer: signature.Static{URL: "mem://remote"},
			kind:   shared.KindHandshake,
		},
		{
			name:   "signature rejected",
			signer: failingSigner{},
			kind:   shared.KindAuth,
		},
		{
			name:   "dial failure",
			signer: testSigner,
			dialFn: func(int) error { return errors.New("refused") },
			kind:   shared.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer()
			srv.failFn = tt.dialFn
			rec := &recorder{}
			s := New(testProto{}, tt.signer, srv, rec, Config{}, testLogger())

			err := s.Open(context.Background())
			if !shared.IsKind(err, tt.kind) {
				t.Fatalf("expected %s error, got %v", tt.kind, err)
			}
			if rec.count("error:") != 1 {
				t.Errorf("expected exactly one error callback, got %v", rec.snapshot())
			}
			if err := s.Open(context.Background()); errors.Is(err, shared.ErrAlreadyOpen) {
				t.Error("a failed session should be reopenable")
			}
		})
	}
}

type failingSigner struct{}

func (failingSigner) Sign(ctx context.Context, purpose shared.Purpose) (*signature.Signature, error) {
	return nil, &shared.Error{Kind: shared.KindAuth, Code: 401, Message: "expired token"}
}

func TestSession_ReconnectExhausted(t *testing.T) {
	mock := clock.NewMock()
	srv := newFakeServer()
	srv.failFn = func(n int) error {
		if n > 1 {
			return errors.New("network unreachable")
		}
		return nil
	}
	rec := &recorder{}

	var mu sync.Mutex
	var delays []time.Duration
	s := New(testProto{}, testSigner, srv, rec, Config{
		Backoff: shared.BackoffConfig{
			MaxAttempts: 2,
			Initial:     time.Second,
			Multiplier:  2,
			MaxDelay:    10 * time.Second,
			Jitter:      300 * time.Millisecond,
		},
		Clock: mock,
		OnRetry: func(attempt int, delay time.Duration) {
			mu.Lock()
			delays = append(delays, delay)
			mu.Unlock()
		},
	}, testLogger())

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv.next(t).Abort("connection reset")

	retries := func(n int) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(delays) >= n
		}
	}

	waitFor(t, "first retry", retries(1))
	mu.Lock()
	first := delays[0]
	mu.Unlock()
	mock.Add(first)

	waitFor(t, "second retry", retries(2))
	mu.Lock()
	second := delays[1]
	mu.Unlock()
	mock.Add(second)

	waitFor(t, "terminal close", func() bool { return rec.count("close:") == 1 })

	if srv.dialCount() != 3 {
		t.Errorf("expected 1 dial plus 2 reconnect attempts, got %d", srv.dialCount())
	}
	if first < time.Second || first >= time.Second+300*time.Millisecond {
		t.Errorf("first delay %v outside [1s, 1.3s)", first)
	}
	if second < 2*time.Second || second >= 2*time.Second+300*time.Millisecond {
		t.Errorf("second delay %v outside [2s, 2.3s)", second)
	}
	if second <= first {
		t.Errorf("delays should increase: %v then %v", first, second)
	}

	if rec.count("error:") != 1 {
		t.Errorf("expected exactly one error, got %v", rec.snapshot())
	}
	if rec.index("error:") > rec.index("close:") {
		t.Errorf("error must precede close: %v", rec.snapshot())
	}
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}

	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if srv.dialCount() != 3 {
		t.Errorf("no attempts expected after terminal close, got %d dials", srv.dialCount())
	}
}

func TestSession_ReconnectFlushesQueuedUnits(t *testing.T) {
	mock := clock.NewMock()
	srv := newFakeServer()
	rec := &recorder{}
	var retried atomic.Int32
	s := New(testProto{}, testSigner, srv, rec, Config{
		Backoff: shared.BackoffConfig{MaxAttempts: 3, Initial: time.Second, Jitter: 0},
		Clock:   mock,
		OnRetry: func(int, time.Duration) { retried.Add(1) },
	}, testLogger())

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv.next(t).Abort("blip")
	waitFor(t, "retry scheduled", func() bool { return retried.Load() == 1 })

	_ = s.Send(Text("while away", false))
	mock.Add(time.Second)

	remote := srv.next(t)
	recv(t, remote)
	if msg := recv(t, remote); string(msg.Data) != "text:while away" {
		t.Errorf("expected queued unit after reconnect, got %q", msg.Data)
	}
	waitFor(t, "reopened", func() bool { return s.State() == StateOpen })
	if s.Retries() != 0 {
		t.Errorf("retry counter should reset after reopening, got %d", s.Retries())
	}
	if rec.count("open") != 2 {
		t.Errorf("expected two open callbacks, got %v", rec.snapshot())
	}
	if rec.count("close:") != 0 || rec.count("error") != 0 {
		t.Errorf("reconnect should be silent, got %v", rec.snapshot())
	}
	_ = s.Close()
}

func TestSession_RemoteFailure(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		retries int
		dials   int
	}{
		{name: "fatal code", code: 10105, retries: 3, dials: 1},
		{name: "retryable code with no retries left", code: 10007, retries: 0, dials: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer()
			rec := &recorder{}
			s := New(testProto{}, testSigner, srv, rec, Config{
				Backoff: shared.BackoffConfig{MaxAttempts: tt.retries, Jitter: 0},
			}, testLogger())
			if err := s.Open(context.Background()); err != nil {
				t.Fatalf("Open: %v", err)
			}
			remote := srv.next(t)
			_ = remote.Send(context.Background(), transport.Text([]byte(fmt.Sprintf("fail:%d", tt.code))))

			waitFor(t, "close", func() bool { return rec.count("close:") == 1 })
			if rec.count("error:remote") != 1 {
				t.Errorf("expected one remote error, got %v", rec.snapshot())
			}
			if rec.index("error:") > rec.index("close:") {
				t.Errorf("error must precede close: %v", rec.snapshot())
			}
			if srv.dialCount() != tt.dials {
				t.Errorf("expected %d dials, got %d", tt.dials, srv.dialCount())
			}

			rec.mu.Lock()
			var se *shared.Error
			ok := errors.As(rec.errs[0], &se)
			rec.mu.Unlock()
			if !ok || se.Code != tt.code {
				t.Errorf("expected structured error with code %d, got %v", tt.code, se)
			}
		})
	}
}

func TestSession_RetryableRemoteFailureReconnects(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{
		Backoff: shared.BackoffConfig{MaxAttempts: 2, Initial: time.Millisecond, MaxDelay: time.Millisecond},
	}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = srv.next(t).Send(context.Background(), transport.Text([]byte("fail:10007")))

	srv.next(t)
	waitFor(t, "reopened", func() bool { return rec.count("open") == 2 })
	if rec.count("error") != 0 {
		t.Errorf("retryable failure should be silent, got %v", rec.snapshot())
	}
	_ = s.Close()
}

func TestSession_ProtocolError(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{Backoff: shared.BackoffConfig{MaxAttempts: 3}}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = srv.next(t).Send(context.Background(), transport.Text([]byte("garbage")))

	waitFor(t, "close", func() bool { return rec.count("close:") == 1 })
	if rec.count("error:protocol") != 1 {
		t.Errorf("expected protocol error, got %v", rec.snapshot())
	}
	if srv.dialCount() != 1 {
		t.Errorf("protocol errors are not retried, got %d dials", srv.dialCount())
	}
	if s.State() != StateError {
		t.Errorf("expected error state, got %s", s.State())
	}
}

func TestSession_CloseCancelsReconnect(t *testing.T) {
	mock := clock.NewMock()
	srv := newFakeServer()
	rec := &recorder{}
	var retried atomic.Int32
	s := New(testProto{}, testSigner, srv, rec, Config{
		Backoff: shared.BackoffConfig{MaxAttempts: 3, Initial: time.Second},
		Clock:   mock,
		OnRetry: func(int, time.Duration) { retried.Add(1) },
	}, testLogger())

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv.next(t).Abort("blip")
	waitFor(t, "retry scheduled", func() bool { return retried.Load() == 1 })

	_ = s.Send(Text("dropped", false))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("close should discard queued units, got %d", s.Pending())
	}

	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if srv.dialCount() != 1 {
		t.Errorf("reconnect fired after close, dials = %d", srv.dialCount())
	}
	if rec.count("close:") != 1 || rec.count("error") != 0 {
		t.Errorf("expected a single clean close, got %v", rec.snapshot())
	}
}

func TestSession_CloseWhileOpen(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{Backoff: shared.BackoffConfig{MaxAttempts: 3}}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	remote := srv.next(t)

	_ = s.Close()
	waitFor(t, "close", func() bool { return rec.count("close:1000") == 1 })
	<-remote.Done()

	if err := s.Send(Audio([]byte{1}, false)); err != nil {
		t.Errorf("send after close should be a silent no-op, got %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("send after close should not queue")
	}
	if srv.dialCount() != 1 {
		t.Errorf("caller close must not reconnect, dials = %d", srv.dialCount())
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if rec.count("close:") != 1 {
		t.Errorf("close callback should fire once, got %v", rec.snapshot())
	}
}

func TestSession_IdleWatchdog(t *testing.T) {
	mock := clock.NewMock()
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{
		IdleTimeout:      20 * time.Second,
		WatchdogInterval: 5 * time.Second,
		Backoff:          shared.BackoffConfig{MaxAttempts: 3},
		Clock:            mock,
	}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	srv.next(t)

	waitFor(t, "watchdog close", func() bool {
		if rec.count("close:") == 1 {
			return true
		}
		mock.Add(5 * time.Second)
		return false
	})
	if rec.count("error:transport") != 1 {
		t.Errorf("expected idle transport error, got %v", rec.snapshot())
	}
	rec.mu.Lock()
	msg := rec.errs[0].Error()
	rec.mu.Unlock()
	if !strings.Contains(msg, "no audio sent") {
		t.Errorf("expected descriptive error, got %q", msg)
	}
	if srv.dialCount() != 1 {
		t.Errorf("abandoned sessions are not reconnected, dials = %d", srv.dialCount())
	}
}

func TestSession_KeepAlive(t *testing.T) {
	mock := clock.NewMock()
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{
		KeepAlive:     2 * time.Second,
		KeepAliveIdle: true,
		Clock:         mock,
	}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	remote := srv.next(t)
	recv(t, remote)

	got := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		msg, err := remote.Receive(ctx)
		if err == nil {
			got <- string(msg.Data)
		}
	}()

	var data string
	waitFor(t, "keepalive", func() bool {
		select {
		case data = <-got:
			return true
		default:
			mock.Add(time.Second)
			return false
		}
	})
	if data != "ping" {
		t.Errorf("expected ping, got %q", data)
	}
	_ = s.Close()
}

func TestSession_ActiveStateAndIgnore(t *testing.T) {
	srv := newFakeServer()
	rec := &recorder{}
	s := New(testProto{}, testSigner, srv, rec, Config{ActiveState: StateSynthesizing}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	remote := srv.next(t)
	_ = remote.Send(context.Background(), transport.Text([]byte("noop")))
	_ = remote.Send(context.Background(), transport.Binary([]byte{1, 2}))

	waitFor(t, "audio event", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.events) > 0
	})
	rec.mu.Lock()
	n := len(rec.events)
	kind := rec.events[0].Kind
	rec.mu.Unlock()
	if n != 1 || kind != EventAudio {
		t.Errorf("ignored messages should not reach the observer, got %d events", n)
	}
	if s.State() != StateSynthesizing {
		t.Errorf("expected synthesizing, got %s", s.State())
	}
	_ = s.Close()
}

func TestSession_OpenTwice(t *testing.T) {
	srv := newFakeServer()
	s := New(testProto{}, testSigner, srv, &recorder{}, Config{}, testLogger())
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Open(context.Background()); !errors.Is(err, shared.ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
	_ = s.Close()
}

func TestQueue(t *testing.T) {
	var q Queue
	q.Push(Text("a", false))
	q.Push(Text("b", false))
	q.PushFront(Text("z", false))

	var order []string
	for {
		u, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, u.Text)
	}
	if strings.Join(order, "") != "zab" {
		t.Errorf("unexpected order %v", order)
	}

	q.Push(Audio(nil, true))
	if n := q.Clear(); n != 1 || q.Len() != 0 {
		t.Errorf("Clear returned %d, len %d", n, q.Len())
	}
}
