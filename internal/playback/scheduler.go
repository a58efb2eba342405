package playback

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/pcm"
)

type Mode int

const (
	// ModeRaw schedules 16-bit mono PCM on the sink clock.
	ModeRaw Mode = iota
	// ModeCompressed appends encoded chunks to a media buffer.
	ModeCompressed
)

func (m Mode) String() string {
	if m == ModeCompressed {
		return "compressed"
	}
	return "raw"
}

const (
	DefaultSampleRate = 16000
	DefaultAhead      = 80 * time.Millisecond
	DefaultBatchSize  = 3
)

type Config struct {
	Mode       Mode
	SampleRate int
	// Ahead is the minimum lead between the output clock and a chunk start.
	Ahead     time.Duration
	BatchSize int
	Volume    float64
	Metrics   *metrics.Metrics
	// OnComplete fires once, after the transport closed, input ended and
	// every queued chunk played.
	OnComplete func()
	// OnChunk observes each raw chunk as it is scheduled.
	OnChunk func(samples []float32)
}

// Scheduler plays chunks in arrival order without gaps or overlaps. The mode
// is fixed at construction.
type Scheduler struct {
	sink     Sink
	appender Appender
	blob     BlobPlayer
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu              sync.Mutex
	queue           [][]byte
	blobBuf         bytes.Buffer
	blobQueued      bool
	cursor          time.Duration
	voices          []Voice
	inFlight        bool
	paused          bool
	volume          float64
	transportClosed bool
	inputEnded      bool
	completed       bool
	closed          bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(sink Sink, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Ahead <= 0 {
		cfg.Ahead = DefaultAhead
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = 1
	}
	if sink == nil {
		return nil, ErrUnsupported
	}

	s := &Scheduler{
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With("component", "playback", "mode", cfg.Mode.String()),
		metrics: cfg.Metrics,
		volume:  cfg.Volume,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	if cfg.Mode == ModeCompressed {
		if a, ok := sink.(Appender); ok {
			s.appender = a
		} else if b, ok := sink.(BlobPlayer); ok {
			s.logger.Info("streaming append unavailable, buffering whole stream")
			s.blob = b
		} else {
			return nil, ErrUnsupported
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s, nil
}

// Enqueue adds one payload: little-endian PCM16 in raw mode, an encoded chunk
// otherwise. Payloads arriving after Close or completion are dropped.
func (s *Scheduler) Enqueue(payload []byte) {
	if len(payload) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed || s.completed {
		s.mu.Unlock()
		return
	}
	if s.blob != nil {
		s.blobBuf.Write(payload)
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()
	s.signal()
}

// Pause stops the chunks in flight and holds the queue. The cursor is kept.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.paused || s.closed {
		s.mu.Unlock()
		return
	}
	s.paused = true
	voices := s.voices
	s.voices = nil
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetVolume sets the gain applied to chunks scheduled from now on, clamped to
// [0, 1].
func (s *Scheduler) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *Scheduler) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Cursor is the output time at which the next chunk may start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// TransportClosed records that no more audio will arrive from the remote.
func (s *Scheduler) TransportClosed() {
	s.mu.Lock()
	s.transportClosed = true
	s.mu.Unlock()
	s.CheckCompletion()
}

// EndInput records that the caller will submit no more text.
func (s *Scheduler) EndInput() {
	s.mu.Lock()
	s.inputEnded = true
	s.mu.Unlock()
	s.CheckCompletion()
}

func (s *Scheduler) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// CheckCompletion fires OnComplete if everything has played. It is safe to
// call any number of times; the callback runs at most once.
func (s *Scheduler) CheckCompletion() {
	s.mu.Lock()
	if s.completed || s.closed {
		s.mu.Unlock()
		return
	}
	if !s.transportClosed || !s.inputEnded || len(s.queue) > 0 || s.inFlight {
		s.mu.Unlock()
		return
	}
	if s.blob != nil && !s.blobQueued && s.blobBuf.Len() > 0 {
		s.blobQueued = true
		s.queue = append(s.queue, bytes.Clone(s.blobBuf.Bytes()))
		s.blobBuf.Reset()
		s.mu.Unlock()
		s.signal()
		return
	}
	s.completed = true
	s.mu.Unlock()

	s.logger.Debug("playback complete")
	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete()
	}
}

// Close stops in-flight audio, discards the queue and ends the scheduling
// loop. OnComplete is not fired.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	voices := s.voices
	s.voices = nil
	s.queue = nil
	s.blobBuf.Reset()
	s.mu.Unlock()

	s.cancel()
	for _, v := range voices {
		v.Stop()
	}
}

// Done is closed once the scheduling loop has exited after Close.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	for {
		batch, ok := s.next()
		if !ok {
			return
		}

		switch {
		case s.blob != nil:
			s.playBlob(batch[0])
		case s.appender != nil:
			s.append(batch[0])
		default:
			s.playBatch(batch)
		}

		s.mu.Lock()
		s.inFlight = false
		s.voices = nil
		s.mu.Unlock()
		s.CheckCompletion()
	}
}

func (s *Scheduler) next() ([][]byte, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		if !s.paused && len(s.queue) > 0 {
			n := 1
			if s.cfg.Mode == ModeRaw {
				n = min(s.cfg.BatchSize, len(s.queue))
			}
			batch := make([][]byte, n)
			copy(batch, s.queue)
			s.queue = s.queue[n:]
			s.inFlight = true
			s.mu.Unlock()
			return batch, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return nil, false
		}
	}
}

func (s *Scheduler) playBatch(batch [][]byte) {
	voices := make([]Voice, 0, len(batch))

	for i, chunk := range batch {
		samples := pcm.ToFloat32(pcm.Decode(chunk))
		if len(samples) == 0 {
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.paused {
			s.queue = append(append([][]byte{}, batch[i:]...), s.queue...)
			s.mu.Unlock()
			break
		}
		pcm.Gain(samples, s.volume)
		start := max(s.cursor, s.sink.Now()+s.cfg.Ahead)
		v, err := s.sink.Schedule(samples, s.cfg.SampleRate, start)
		if err != nil {
			s.mu.Unlock()
			s.logger.Warn("dropping chunk that failed to schedule", "error", err, "samples", len(samples))
			s.metrics.ChunkDropped()
			continue
		}
		s.cursor = start + pcm.Duration(len(samples), s.cfg.SampleRate)
		s.voices = append(s.voices, v)
		s.mu.Unlock()

		s.metrics.ChunkScheduled()
		if s.cfg.OnChunk != nil {
			s.cfg.OnChunk(samples)
		}
		voices = append(voices, v)
	}

	for _, v := range voices {
		select {
		case <-v.Done():
		case <-s.ctx.Done():
			v.Stop()
			return
		}
	}
}

func (s *Scheduler) append(chunk []byte) {
	if err := s.appender.Append(s.ctx, chunk); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("dropping chunk that failed to append", "error", err, "bytes", len(chunk))
		s.metrics.ChunkDropped()
		return
	}
	s.metrics.ChunkScheduled()
}

func (s *Scheduler) playBlob(data []byte) {
	if err := s.blob.PlayBlob(s.ctx, data); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("assembled stream failed to play", "error", err, "bytes", len(data))
		s.metrics.ChunkDropped()
		return
	}
	s.metrics.ChunkScheduled()
}
