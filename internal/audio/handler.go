package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-stream/internal/pcm"
	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/recognition"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/synthesis"
	"github.com/eleven-am/voice-stream/internal/transport"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	maxFileSize      = 25 * 1024 * 1024
	maxInputLength   = 8000
	maxAudioDataSize = 100 * 1024 * 1024
	initialBufSize   = 64 * 1024

	DefaultTimeout       = 2 * time.Minute
	DefaultChunkDuration = 40 * time.Millisecond
)

var audioBufferPool = sync.Pool{
	New: func() any {
		b := &bytes.Buffer{}
		b.Grow(initialBufSize)
		return b
	},
}

type Config struct {
	Synthesis   synthesis.Config
	Recognition recognition.Config
	// ChunkDuration is the audio length of each paced upload step.
	ChunkDuration time.Duration
	// Burst is how many chunks may be sent ahead of real time.
	Burst   int
	Timeout time.Duration
}

type Handler struct {
	signer signature.Signer
	dialer transport.Dialer
	device *playback.Device
	cfg    Config
	logger *slog.Logger
}

func NewHandler(signer signature.Signer, dialer transport.Dialer, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	device := cfg.Synthesis.Device
	cfg.Synthesis.Device = nil
	return &Handler{
		signer: signer,
		dialer: dialer,
		device: device,
		cfg:    cfg,
		logger: logger.With("handler", "audio"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/speech", h.HandleSpeech)
	g.POST("/transcriptions", h.HandleTranscriptions)
	if h.device != nil {
		g.POST("/playback", h.HandlePlayback)
	}
}

type SpeechRequest struct {
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Speed          *int   `json:"speed"`
	Volume         *int   `json:"volume"`
	Pitch          *int   `json:"pitch"`
	ResponseFormat string `json:"response_format"`
}

type PlaybackResponse struct {
	Status    string `json:"status"`
	Voice     string `json:"voice"`
	SessionID string `json:"session_id,omitempty"`
}

type TranscriptionResponse struct {
	Text      string  `json:"text"`
	Duration  float64 `json:"duration"`
	SessionID string  `json:"session_id,omitempty"`
}

type speechCollector struct {
	session.NopHandler
	mu       sync.Mutex
	buf      *bytes.Buffer
	overflow bool
	released bool
}

func (s *speechCollector) OnAudio(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	if s.buf.Len()+len(chunk) > maxAudioDataSize {
		s.overflow = true
		return
	}
	s.buf.Write(chunk)
}

func (s *speechCollector) OnComplete() {}

func (s *speechCollector) release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

// HandleSpeech synthesizes the input text and returns the whole clip.
// Formats: wav (default), pcm (raw 16-bit little-endian) and mp3.
func (h *Handler) HandleSpeech(c echo.Context) error {
	var req SpeechRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "Invalid request body")
	}
	if req.Input == "" {
		return shared.BadRequest("missing_input", "Input text is required")
	}
	if len(req.Input) > maxInputLength {
		return shared.BadRequest("input_too_long", fmt.Sprintf("Input text exceeds maximum length of %d bytes", maxInputLength))
	}

	business, err := h.business(req)
	if err != nil {
		return err
	}

	buf := audioBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer audioBufferPool.Put(buf)
	collector := &speechCollector{buf: buf}
	defer collector.release()

	cfg := h.cfg.Synthesis
	cfg.Business = business
	client := synthesis.New(h.signer, h.dialer, collector, cfg, h.logger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.Timeout)
	defer cancel()

	if err := client.Speak(ctx, req.Input); err != nil {
		return h.upstreamError("synthesis", err)
	}
	if err := client.Wait(ctx); err != nil {
		return h.upstreamError("synthesis", err)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if collector.overflow {
		return shared.InternalError("synthesis_failed", "audio data exceeds maximum size")
	}
	if buf.Len() == 0 {
		return shared.InternalError("synthesis_failed", "No audio data generated")
	}

	h.logger.Debug("speech synthesized", "session_id", client.SessionID(), "bytes", buf.Len(), "voice", business.Vcn)

	switch {
	case business.Compressed():
		return c.Blob(http.StatusOK, "audio/mpeg", bytes.Clone(buf.Bytes()))
	case req.ResponseFormat == "pcm":
		return c.Blob(http.StatusOK, "audio/pcm", bytes.Clone(buf.Bytes()))
	}
	wavData, err := EncodeWAV(pcm.Decode(buf.Bytes()), business.SampleRate())
	if err != nil {
		h.logger.Error("wav encoding failed", "error", err)
		return shared.InternalError("encoding_failed", "Failed to encode audio")
	}
	return c.Blob(http.StatusOK, "audio/wav", wavData)
}

type playbackHandler struct {
	session.NopHandler
}

func (playbackHandler) OnAudio([]byte) {}
func (playbackHandler) OnComplete()    {}

// HandlePlayback synthesizes the input onto the shared output device and
// returns once the request is accepted. Concurrent requests share the device.
func (h *Handler) HandlePlayback(c echo.Context) error {
	var req SpeechRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "Invalid request body")
	}
	if req.Input == "" {
		return shared.BadRequest("missing_input", "Input text is required")
	}
	if len(req.Input) > maxInputLength {
		return shared.BadRequest("input_too_long", fmt.Sprintf("Input text exceeds maximum length of %d bytes", maxInputLength))
	}
	business, err := h.business(req)
	if err != nil {
		return err
	}

	cfg := h.cfg.Synthesis
	cfg.Business = business
	cfg.Device = h.device
	client := synthesis.New(h.signer, h.dialer, playbackHandler{}, cfg, h.logger)

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	if err := client.Speak(ctx, req.Input); err != nil {
		cancel()
		client.Close()
		if shared.IsKind(err, shared.KindPlayback) {
			h.logger.Error("output device unavailable", "error", err)
			return shared.NewAPIError("device_unavailable", "Output device unavailable").ToHTTP(http.StatusServiceUnavailable)
		}
		return h.upstreamError("playback", err)
	}

	go func() {
		defer cancel()
		defer client.Close()
		if err := client.Wait(ctx); err != nil {
			h.logger.Warn("playback ended early", "error", err, "session_id", client.SessionID())
			return
		}
		h.logger.Debug("playback complete", "session_id", client.SessionID())
	}()

	return c.JSON(http.StatusAccepted, PlaybackResponse{
		Status:    "playing",
		Voice:     business.Vcn,
		SessionID: client.SessionID(),
	})
}

func (h *Handler) business(req SpeechRequest) (synthesis.Business, error) {
	b := h.cfg.Synthesis.Business
	if b == (synthesis.Business{}) {
		b = synthesis.DefaultBusiness()
	}
	if req.Voice != "" {
		b.Vcn = req.Voice
	}

	for _, p := range []struct {
		name  string
		value *int
		dst   *int
	}{
		{"speed", req.Speed, &b.Speed},
		{"volume", req.Volume, &b.Volume},
		{"pitch", req.Pitch, &b.Pitch},
	} {
		if p.value == nil {
			continue
		}
		if *p.value < 0 || *p.value > 100 {
			return b, shared.BadRequest("invalid_"+p.name, p.name+" must be between 0 and 100")
		}
		*p.dst = *p.value
	}

	switch req.ResponseFormat {
	case "", "wav", "pcm":
		b.Aue = synthesis.DefaultEncoding
	case "mp3":
		b.Aue = "lame"
	default:
		return b, shared.BadRequest("invalid_format", "response_format must be wav, pcm or mp3")
	}
	return b, nil
}

type transcriptCollector struct {
	session.NopHandler
	mu   sync.Mutex
	text string
	err  error
	done chan struct{}
	once sync.Once
}

func newTranscriptCollector() *transcriptCollector {
	return &transcriptCollector{done: make(chan struct{})}
}

func (t *transcriptCollector) OnResult(text string, final bool) {
	t.mu.Lock()
	t.text = text
	t.mu.Unlock()
	if final {
		t.signal()
	}
}

func (t *transcriptCollector) OnError(err error, sid string) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.signal()
}

func (t *transcriptCollector) OnClose(int, string) {
	t.signal()
}

func (t *transcriptCollector) signal() {
	t.once.Do(func() { close(t.done) })
}

func (t *transcriptCollector) result() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text, t.err
}

// HandleTranscriptions recognizes a WAV upload. The audio is streamed to the
// dictation service at real-time pace.
func (h *Handler) HandleTranscriptions(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return shared.BadRequest("missing_file", "File is required")
	}
	if file.Size > maxFileSize {
		return shared.NewAPIError("file_too_large", "File too large (max 25MB)").ToHTTP(http.StatusRequestEntityTooLarge)
	}

	src, err := file.Open()
	if err != nil {
		return shared.InternalError("file_error", "Failed to open file")
	}
	defer src.Close()

	clip, err := DecodeWAV(src)
	if err != nil {
		return shared.BadRequest("invalid_audio", "File must be a PCM WAV file")
	}
	if clip.Frames() == 0 {
		return shared.BadRequest("empty_audio", "File contains no audio")
	}

	cfg := h.cfg.Recognition
	cfg.SampleRate = clip.SampleRate
	cfg.Channels = clip.Channels
	if cfg.Options == (recognition.Options{}) {
		cfg.Options = recognition.DefaultOptions()
	}
	if lang := c.FormValue("language"); lang != "" {
		cfg.Options.Language = lang
	}
	if accent := c.FormValue("accent"); accent != "" {
		cfg.Options.Accent = accent
	}

	collector := newTranscriptCollector()
	client := recognition.New(h.signer, h.dialer, collector, cfg, h.logger)
	defer client.Close()

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.Timeout)
	defer cancel()

	if err := client.Open(ctx); err != nil {
		return h.upstreamError("transcription", err)
	}
	if err := h.stream(ctx, client, clip); err != nil {
		if _, cerr := collector.result(); cerr != nil {
			err = cerr
		}
		return h.upstreamError("transcription", err)
	}

	select {
	case <-collector.done:
	case <-ctx.Done():
		return h.upstreamError("transcription", ctx.Err())
	}
	text, err := collector.result()
	if err != nil {
		return h.upstreamError("transcription", err)
	}

	duration := pcm.Duration(clip.Frames(), clip.SampleRate)
	h.logger.Debug("upload transcribed", "session_id", client.SessionID(), "duration", duration)

	if c.FormValue("response_format") == "text" {
		return c.String(http.StatusOK, text)
	}
	return c.JSON(http.StatusOK, TranscriptionResponse{
		Text:      text,
		Duration:  duration.Seconds(),
		SessionID: client.SessionID(),
	})
}

// stream sends the clip in ChunkDuration pieces, no faster than real time
// beyond the configured burst.
func (h *Handler) stream(ctx context.Context, client *recognition.Client, clip Clip) error {
	frameBytes := 2 * clip.Channels
	chunk := int(int64(clip.SampleRate)*int64(h.cfg.ChunkDuration)/int64(time.Second)) * frameBytes
	if chunk < frameBytes {
		chunk = frameBytes
	}
	limiter := rate.NewLimiter(rate.Every(h.cfg.ChunkDuration), h.cfg.Burst)

	for off := 0; off < len(clip.PCM); off += chunk {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		end := min(off+chunk, len(clip.PCM))
		if err := client.AppendAudio(clip.PCM[off:end]); err != nil {
			return err
		}
	}
	return client.EndStream()
}

func (h *Handler) upstreamError(op string, err error) error {
	var se *shared.Error
	switch {
	case errors.As(err, &se) && se.Kind == shared.KindRemote:
		h.logger.Warn(op+" rejected", se.Context()...)
		return shared.NewAPIError("upstream_error", se.Message).
			WithDetails(map[string]any{"code": se.Code, "sid": se.SessionID}).
			ToHTTP(http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn(op+" timed out", "timeout", h.cfg.Timeout)
		return shared.NewAPIError("timeout", op+" timed out").ToHTTP(http.StatusGatewayTimeout)
	case errors.As(err, &se):
		h.logger.Error(op+" failed", se.Context()...)
		return shared.BadGateway(op+"_failed", se.Error())
	default:
		h.logger.Error(op+" failed", "error", err)
		return shared.InternalError(op+"_failed", "Upstream request failed")
	}
}
