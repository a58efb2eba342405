package recognition

import "context"

type Recognizer interface {
	Open(ctx context.Context) error
	AppendAudio(pcm []byte) error
	EndStream() error
	Text() string
	Close() error
}
