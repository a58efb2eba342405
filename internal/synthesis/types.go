package synthesis

import (
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/session"
)

const (
	DefaultEncoding     = "raw"
	DefaultVoice        = "x4_yezi"
	DefaultSpeed        = 50
	DefaultVolume       = 50
	DefaultPitch        = 50
	DefaultTextEncoding = "UTF8"
	DefaultAudioFormat  = "audio/L16;rate=16000"

	DefaultKeepAlive = 30 * time.Second
	minAutoEnd       = time.Second
)

// Business is the synthesis parameter block sent with every frame.
type Business struct {
	Aue    string `json:"aue" yaml:"aue"`
	Auf    string `json:"auf" yaml:"auf"`
	Vcn    string `json:"vcn" yaml:"vcn"`
	Speed  int    `json:"speed" yaml:"speed"`
	Volume int    `json:"volume" yaml:"volume"`
	Pitch  int    `json:"pitch" yaml:"pitch"`
	Tte    string `json:"tte" yaml:"tte"`
	Rdn    string `json:"rdn,omitempty" yaml:"rdn"`
	Ent    string `json:"ent,omitempty" yaml:"ent"`
}

func DefaultBusiness() Business {
	return Business{
		Aue:    DefaultEncoding,
		Auf:    DefaultAudioFormat,
		Vcn:    DefaultVoice,
		Speed:  DefaultSpeed,
		Volume: DefaultVolume,
		Pitch:  DefaultPitch,
		Tte:    DefaultTextEncoding,
	}
}

// withDefaults fills empty string fields. A zero Business gets every default;
// otherwise numeric fields are sent as given.
func (b Business) withDefaults() Business {
	if b == (Business{}) {
		return DefaultBusiness()
	}
	if b.Aue == "" {
		b.Aue = DefaultEncoding
	}
	if b.Auf == "" {
		b.Auf = DefaultAudioFormat
	}
	if b.Vcn == "" {
		b.Vcn = DefaultVoice
	}
	if b.Tte == "" {
		b.Tte = DefaultTextEncoding
	}
	return b
}

// Compressed reports whether the negotiated encoding is MP3.
func (b Business) Compressed() bool {
	return b.Aue == "lame" || b.Aue == "mp3"
}

// SampleRate is the rate named in Auf, or 16 kHz.
func (b Business) SampleRate() int {
	_, rate, ok := strings.Cut(b.Auf, "rate=")
	if !ok {
		return playback.DefaultSampleRate
	}
	n, err := strconv.Atoi(strings.TrimSpace(rate))
	if err != nil || n <= 0 {
		return playback.DefaultSampleRate
	}
	return n
}

// Handler receives synthesized audio. OnComplete fires once after the last
// chunk has played, or after the transport closed when nothing plays.
type Handler interface {
	session.Handler
	OnAudio(chunk []byte)
	OnComplete()
}

// LevelHandler is optionally implemented by handlers that drive a level
// meter. Levels are 0..100 and reported for raw audio only.
type LevelHandler interface {
	OnLevel(level int)
}

type Config struct {
	Session  session.Config
	Business Business
	// AutoEnd ends text input after this long without AppendText. Zero
	// disables it; shorter values are raised to one second.
	AutoEnd time.Duration
	// Device plays audio as it arrives. Nil disables playback.
	Device    *playback.Device
	Ahead     time.Duration
	BatchSize int
	// Volume is the local playback gain in [0, 1]. Zero means full volume.
	Volume float64
}
