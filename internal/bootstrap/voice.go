package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-stream/internal/audio"
	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/recognition"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/synthesis"
	"github.com/eleven-am/voice-stream/internal/transcription"
	"github.com/eleven-am/voice-stream/internal/transport"
	"go.uber.org/fx"
)

func ProvideTranscriptionPool(
	lc fx.Lifecycle,
	signer signature.Signer,
	dialer transport.Dialer,
	cfg *Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *transcription.Pool {
	pool := transcription.NewPool(signer, dialer, transcription.Config{
		Session: cfg.Session(m),
	}, m, logger)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.CloseAll()
			return nil
		},
	})
	return pool
}

func ProvideAudioHandler(
	signer signature.Signer,
	dialer transport.Dialer,
	device *playback.Device,
	cfg *Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *audio.Handler {
	speech := cfg.Session(m)
	speech.IdleTimeout = 0
	return audio.NewHandler(signer, dialer, audio.Config{
		Synthesis: synthesis.Config{
			Session:  speech,
			Business: cfg.Synthesis,
			Device:   device,
		},
		Recognition: recognition.Config{
			Session: cfg.Session(m),
			Options: cfg.Recognition,
		},
		Timeout: cfg.RequestTimeout,
	}, logger)
}

func ProvideConnectionsHandler(pool *transcription.Pool, cfg *Config, logger *slog.Logger) *transcription.ConnectionsHandler {
	return transcription.NewConnectionsHandler(pool, cfg.Transcription, logger)
}

var VoiceModule = fx.Options(
	fx.Provide(
		ProvideTranscriptionPool,
		ProvideAudioHandler,
		ProvideConnectionsHandler,
	),
	fx.Invoke(RegisterRoutes),
)
