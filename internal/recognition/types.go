package recognition

import (
	"github.com/eleven-am/voice-stream/internal/session"
)

const (
	DefaultFrameSize = 1280
	inputRate        = 16000
	audioFormat      = "audio/L16;rate=16000"
	audioEncoding    = "raw"
)

// Options are the business parameters sent in the first frame.
type Options struct {
	Language string `yaml:"language"`
	Domain   string `yaml:"domain"`
	Accent   string `yaml:"accent"`
	// VADEos is the trailing silence in milliseconds that ends an utterance.
	VADEos int `yaml:"vad_eos"`
	// DynamicCorrection requests replace fragments ("wpgs").
	DynamicCorrection bool `yaml:"dynamic_correction"`
	Punctuation       bool `yaml:"punctuation"`
}

func DefaultOptions() Options {
	return Options{
		Language:          "zh_cn",
		Domain:            "iat",
		Accent:            "mandarin",
		DynamicCorrection: true,
		Punctuation:       true,
	}
}

// Handler receives recognition results in addition to lifecycle callbacks.
type Handler interface {
	session.Handler
	OnResult(text string, isFinal bool)
}

type Config struct {
	Session session.Config
	Options Options
	// SampleRate and Channels describe caller audio; it is converted to
	// 16 kHz mono before framing.
	SampleRate int
	Channels   int
	FrameSize  int
	Window     int
}
