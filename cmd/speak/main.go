package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/eleven-am/voice-stream/internal/audio"
	"github.com/eleven-am/voice-stream/internal/bootstrap"
	"github.com/eleven-am/voice-stream/internal/pcm"
	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/synthesis"
)

type collector struct {
	session.NopHandler
	mu   sync.Mutex
	data []byte
}

func (c *collector) OnAudio(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, chunk...)
}

func (c *collector) OnComplete() {}

func main() {
	out := flag.String("out", "speech.wav", "output file")
	voice := flag.String("voice", "", "voice name, defaults to the configured voice")
	play := flag.Bool("play", false, "pace audio through the output device in real time")
	flag.Parse()

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "usage: speak [-out file] [-voice name] [-play] text...")
		os.Exit(2)
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *voice != "" {
		cfg.Synthesis.Vcn = *voice
	}
	logger := bootstrap.ProvideLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	speech := cfg.Session(nil)
	speech.IdleTimeout = 0
	synthCfg := synthesis.Config{
		Session:  speech,
		Business: cfg.Synthesis,
	}
	var device *playback.Device
	if *play {
		if cfg.Synthesis.Compressed() {
			fmt.Fprintln(os.Stderr, "Real-time playback needs a raw PCM encoding")
			os.Exit(1)
		}
		rate := cfg.Synthesis.SampleRate()
		device = playback.NewDevice(func() (playback.Sink, error) {
			f, err := os.Create(*out)
			if err != nil {
				return nil, err
			}
			w := playback.NewOutputWorker(playback.NewWAVWriter(f, rate), nil, 0, logger)
			w.Start()
			return w, nil
		}, nil, logger)
		defer device.Close()
		synthCfg.Device = device
	}

	h := &collector{}
	client := synthesis.New(bootstrap.ProvideSigner(cfg, nil, logger), bootstrap.ProvideDialer(cfg, logger), h, synthCfg, logger)
	defer client.Close()

	if err := client.Speak(ctx, text); err != nil {
		fmt.Fprintf(os.Stderr, "Synthesis failed: %v\n", err)
		os.Exit(1)
	}
	if err := client.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Synthesis failed: %v\n", err)
		os.Exit(1)
	}

	if device == nil {
		h.mu.Lock()
		data := h.data
		h.mu.Unlock()
		if !cfg.Synthesis.Compressed() {
			data, err = audio.EncodeWAV(pcm.Decode(data), cfg.Synthesis.SampleRate())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to encode audio: %v\n", err)
				os.Exit(1)
			}
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Wrote %s (session %s)\n", *out, client.SessionID())
}
