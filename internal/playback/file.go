package playback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eleven-am/voice-stream/internal/pcm"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter records played samples into a mono 16-bit WAV stream. All
// writes must use the rate it was created with.
type WAVWriter struct {
	mu   sync.Mutex
	dst  io.WriteSeeker
	enc  *wav.Encoder
	rate int
}

func NewWAVWriter(dst io.WriteSeeker, sampleRate int) *WAVWriter {
	return &WAVWriter{
		dst:  dst,
		enc:  wav.NewEncoder(dst, sampleRate, 16, 1, 1),
		rate: sampleRate,
	}
}

func (w *WAVWriter) WriteSamples(samples []float32, sampleRate int) error {
	if sampleRate != w.rate {
		return fmt.Errorf("sample rate %d does not match output rate %d", sampleRate, w.rate)
	}
	ints := pcm.ToInt16(samples)
	data := make([]int, len(ints))
	for i, s := range ints {
		data[i] = int(s)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: w.rate},
		Data:           data,
		SourceBitDepth: 16,
	})
}

// Close finalizes the WAV header and closes the destination if it is an
// io.Closer.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Close(); err != nil {
		return err
	}
	if c, ok := w.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StreamWriter is a Sink for compressed audio: chunks are appended to an
// io.Writer as they arrive. Raw scheduling is not supported.
type StreamWriter struct {
	mu    sync.Mutex
	dst   io.Writer
	clock clock.Clock
	start time.Time
}

func NewStreamWriter(dst io.Writer, clk clock.Clock) *StreamWriter {
	if clk == nil {
		clk = clock.New()
	}
	return &StreamWriter{dst: dst, clock: clk, start: clk.Now()}
}

func (w *StreamWriter) Now() time.Duration {
	return w.clock.Since(w.start)
}

func (w *StreamWriter) Schedule([]float32, int, time.Duration) (Voice, error) {
	return nil, ErrUnsupported
}

func (w *StreamWriter) Append(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.dst.Write(chunk)
	return err
}

func (w *StreamWriter) Close() error {
	if c, ok := w.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
