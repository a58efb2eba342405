package synthesis

import "context"

type Synthesizer interface {
	Start(ctx context.Context) error
	AppendText(text string) error
	EndText() error
	Speak(ctx context.Context, text string) error
	Pause()
	Resume()
	SetVolume(v float64)
	Wait(ctx context.Context) error
	Close() error
}
