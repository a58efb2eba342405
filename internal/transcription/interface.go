package transcription

import "context"

type Transcriber interface {
	Open(ctx context.Context) error
	SendAudio(pcm []byte) error
	EndStream() error
	Text() string
	Close() error
}
