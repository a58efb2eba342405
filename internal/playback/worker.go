package playback

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/voice-stream/internal/pcm"
)

var (
	ErrBufferFull = errors.New("output buffer full")
	ErrClosed     = errors.New("output closed")
)

// Writer receives samples when their scheduled start time is reached.
type Writer interface {
	WriteSamples(samples []float32, sampleRate int) error
}

type workerVoice struct {
	done chan struct{}
	once sync.Once
}

func (v *workerVoice) Done() <-chan struct{} { return v.done }

func (v *workerVoice) Stop() {
	v.once.Do(func() { close(v.done) })
}

type outputFrame struct {
	samples []float32
	rate    int
	at      time.Duration
	voice   *workerVoice
}

// OutputWorker is a Sink that paces scheduled buffers against a clock and
// hands them to a Writer in order.
type OutputWorker struct {
	queue  chan outputFrame
	writer Writer
	clock  clock.Clock
	start  time.Time
	logger *slog.Logger

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	closed   bool
	bpCb     func(dropped int)

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int64
}

func NewOutputWorker(w Writer, clk clock.Clock, bufferSize int, logger *slog.Logger) *OutputWorker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ow := &OutputWorker{
		queue:  make(chan outputFrame, bufferSize),
		writer: w,
		clock:  clk,
		start:  clk.Now(),
		stopCh: make(chan struct{}),
		logger: logger.With("component", "output_worker"),
	}
	ow.pendingCond = sync.NewCond(&ow.pendingMu)
	return ow
}

func (w *OutputWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Now is the output clock: time elapsed since the worker was created.
func (w *OutputWorker) Now() time.Duration {
	return w.clock.Since(w.start)
}

func (w *OutputWorker) Schedule(samples []float32, sampleRate int, at time.Duration) (Voice, error) {
	v := &workerVoice{done: make(chan struct{})}
	frame := outputFrame{samples: samples, rate: sampleRate, at: at, voice: v}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	w.pendingMu.Lock()
	w.pending++
	w.pendingMu.Unlock()

	select {
	case w.queue <- frame:
		w.mu.Unlock()
		return v, nil
	default:
		cb := w.bpCb
		w.mu.Unlock()
		w.decrementPending()
		if cb != nil {
			cb(1)
		}
		return nil, ErrBufferFull
	}
}

func (w *OutputWorker) run() {
	defer w.wg.Done()

	for frame := range w.queue {
		w.play(frame)
		w.decrementPending()
	}
}

func (w *OutputWorker) play(f outputFrame) {
	defer f.voice.Stop()

	if !w.waitUntil(f.at, f.voice) {
		return
	}
	if err := w.writer.WriteSamples(f.samples, f.rate); err != nil {
		w.logger.Warn("write samples failed", "error", err, "at", f.at)
		return
	}
	w.waitUntil(f.at+pcm.Duration(len(f.samples), f.rate), f.voice)
}

// waitUntil blocks until the output clock reaches at. It returns false if
// the voice was stopped or the worker is shutting down.
func (w *OutputWorker) waitUntil(at time.Duration, v *workerVoice) bool {
	d := at - w.Now()
	if d <= 0 {
		select {
		case <-v.done:
			return false
		default:
			return true
		}
	}

	timer := w.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-v.done:
		return false
	case <-w.stopCh:
		return false
	}
}

func (w *OutputWorker) decrementPending() {
	w.pendingMu.Lock()
	w.pending--
	if w.pending <= 0 {
		w.pending = 0
		w.pendingCond.Broadcast()
	}
	w.pendingMu.Unlock()
}

// WaitForDrain blocks until every scheduled frame has played or been stopped.
func (w *OutputWorker) WaitForDrain() {
	w.pendingMu.Lock()
	for w.pending > 0 {
		w.pendingCond.Wait()
	}
	w.pendingMu.Unlock()
}

// Flush stops every queued frame and returns how many were discarded.
func (w *OutputWorker) Flush() int {
	count := 0
	for {
		select {
		case f := <-w.queue:
			f.voice.Stop()
			w.decrementPending()
			count++
		default:
			return count
		}
	}
}

func (w *OutputWorker) SetBackpressureCallback(cb func(dropped int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bpCb = cb
}

// Close stops the worker after discarding pending frames and closes the
// writer if it is an io.Closer.
func (w *OutputWorker) Close() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.stopCh)
		w.Flush()
		close(w.queue)
		w.mu.Unlock()
		w.wg.Wait()
		if c, ok := w.writer.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
