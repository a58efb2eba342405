// Package playback sequences decoded audio onto a single output timeline.
package playback

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupported = errors.New("playback mode not supported by sink")

// Sink is a clocked audio output. Now reports the output clock; Schedule
// starts mono samples at the given output time.
type Sink interface {
	Now() time.Duration
	Schedule(samples []float32, sampleRate int, at time.Duration) (Voice, error)
}

// Voice is one scheduled buffer.
type Voice interface {
	// Done is closed when the buffer finished playing or was stopped.
	Done() <-chan struct{}
	Stop()
}

// Appender is implemented by sinks that accept compressed chunks into a
// streaming media buffer. Append must not be called concurrently.
type Appender interface {
	Append(ctx context.Context, chunk []byte) error
}

// BlobPlayer plays a complete compressed stream in one go.
type BlobPlayer interface {
	PlayBlob(ctx context.Context, data []byte) error
}
