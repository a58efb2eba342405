package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// ProvideRedisClient returns nil when no address is configured; signatures
// are then fetched on every connect.
func ProvideRedisClient(lc fx.Lifecycle, cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func ProvideSigner(cfg *Config, rdb *redis.Client, logger *slog.Logger) signature.Signer {
	signer := signature.NewHTTPSigner(signature.Config{
		ServerBase: cfg.SignatureServer,
		Token:      cfg.SignatureToken,
		RateLimit:  cfg.SignatureRateLimit,
		Burst:      cfg.SignatureBurst,
	}, logger)
	if rdb == nil || cfg.SignatureCacheTTL <= 0 {
		return signer
	}
	return signature.NewCachedSigner(signer, rdb, cfg.SignatureCacheTTL, logger)
}

func ProvideDialer(cfg *Config, logger *slog.Logger) transport.Dialer {
	return transport.NewWebSocketDialer(transport.WebSocketConfig{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, logger)
}

// ProvideDevice opens the shared output device on OutputFile. The file is
// rewritten each time the device reopens. Nil when no file is configured.
func ProvideDevice(lc fx.Lifecycle, cfg *Config, m *metrics.Metrics, logger *slog.Logger) *playback.Device {
	if cfg.OutputFile == "" {
		return nil
	}
	path := cfg.OutputFile
	rate := cfg.Synthesis.SampleRate()
	device := playback.NewDevice(func() (playback.Sink, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("open output file: %w", err)
		}
		w := playback.NewOutputWorker(playback.NewWAVWriter(f, rate), nil, 0, logger)
		w.Start()
		return w, nil
	}, m, logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return device.Close()
		},
	})
	return device
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideRegistry,
		ProvideMetrics,
		ProvideSigner,
		ProvideDialer,
		ProvideDevice,
	),
)
