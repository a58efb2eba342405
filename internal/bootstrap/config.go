package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/recognition"
	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/synthesis"
	"github.com/eleven-am/voice-stream/internal/transcription"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "VOICE_CONFIG_FILE"

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       time.Duration `yaml:"jitter"`
}

type Config struct {
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`
	// OutputFile receives audio played on the shared output device as WAV.
	// Empty disables server-side playback.
	OutputFile string `yaml:"output_file"`

	SignatureServer    string        `yaml:"signature_server"`
	SignatureToken     string        `yaml:"signature_token"`
	SignatureRateLimit float64       `yaml:"signature_rate_limit"`
	SignatureBurst     int           `yaml:"signature_burst"`
	SignatureCacheTTL  time.Duration `yaml:"signature_cache_ttl"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	Retry            RetryConfig   `yaml:"retry"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	SilenceWarning   time.Duration `yaml:"silence_warning"`
	KeepAlive        time.Duration `yaml:"keepalive"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`

	Synthesis     synthesis.Business   `yaml:"synthesis"`
	Recognition   recognition.Options  `yaml:"recognition"`
	Transcription transcription.Params `yaml:"transcription"`
}

func defaultConfig() *Config {
	return &Config{
		ServerAddr: ":8080",
		LogLevel:   "info",

		SignatureServer:    "http://localhost:3000",
		SignatureRateLimit: 10,
		SignatureBurst:     5,
		SignatureCacheTTL:  30 * time.Second,

		RedisAddr: "localhost:6379",

		Retry: RetryConfig{
			MaxRetries:   shared.DefaultMaxAttempts,
			InitialDelay: shared.DefaultInitial,
			Multiplier:   shared.DefaultMultiplier,
			MaxDelay:     shared.DefaultMaxDelay,
			Jitter:       shared.DefaultJitter,
		},
		HandshakeTimeout: 15 * time.Second,
		IdleTimeout:      30 * time.Second,
		WatchdogInterval: 10 * time.Second,
		SilenceWarning:   10 * time.Second,
		KeepAlive:        synthesis.DefaultKeepAlive,
		RequestTimeout:   2 * time.Minute,

		Synthesis:     synthesis.DefaultBusiness(),
		Recognition:   recognition.DefaultOptions(),
		Transcription: transcription.Params{Language: transcription.DefaultLanguage},
	}
}

// LoadConfig starts from defaults, applies the YAML file named by
// VOICE_CONFIG_FILE if set, then environment overrides.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()
	if path := os.Getenv(configFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.OutputFile = getEnv("OUTPUT_FILE", cfg.OutputFile)

	cfg.SignatureServer = getEnv("SIGNATURE_SERVER", cfg.SignatureServer)
	cfg.SignatureToken = getEnv("SIGNATURE_TOKEN", cfg.SignatureToken)
	cfg.SignatureRateLimit = getEnvFloat("SIGNATURE_RATE_LIMIT", cfg.SignatureRateLimit)
	cfg.SignatureBurst = getEnvInt("SIGNATURE_BURST", cfg.SignatureBurst)
	cfg.SignatureCacheTTL = getEnvDuration("SIGNATURE_CACHE_TTL", cfg.SignatureCacheTTL)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)

	cfg.Retry.MaxRetries = getEnvInt("RETRY_MAX", cfg.Retry.MaxRetries)
	cfg.Retry.InitialDelay = getEnvDuration("RETRY_INITIAL_DELAY", cfg.Retry.InitialDelay)
	cfg.Retry.Multiplier = getEnvFloat("RETRY_MULTIPLIER", cfg.Retry.Multiplier)
	cfg.Retry.MaxDelay = getEnvDuration("RETRY_MAX_DELAY", cfg.Retry.MaxDelay)
	cfg.Retry.Jitter = getEnvDuration("RETRY_JITTER", cfg.Retry.Jitter)

	cfg.HandshakeTimeout = getEnvDuration("HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)
	cfg.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.WatchdogInterval = getEnvDuration("WATCHDOG_INTERVAL", cfg.WatchdogInterval)
	cfg.SilenceWarning = getEnvDuration("SILENCE_WARNING", cfg.SilenceWarning)
	cfg.KeepAlive = getEnvDuration("KEEPALIVE_INTERVAL", cfg.KeepAlive)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.Synthesis.Vcn = getEnv("TTS_VOICE", cfg.Synthesis.Vcn)
	cfg.Synthesis.Speed = getEnvInt("TTS_SPEED", cfg.Synthesis.Speed)
	cfg.Synthesis.Volume = getEnvInt("TTS_VOLUME", cfg.Synthesis.Volume)
	cfg.Synthesis.Pitch = getEnvInt("TTS_PITCH", cfg.Synthesis.Pitch)
	cfg.Synthesis.Aue = getEnv("TTS_ENCODING", cfg.Synthesis.Aue)
	if rate := getEnvInt("TTS_SAMPLE_RATE", 0); rate > 0 {
		cfg.Synthesis.Auf = fmt.Sprintf("audio/L16;rate=%d", rate)
	}

	cfg.Recognition.Language = getEnv("IAT_LANGUAGE", cfg.Recognition.Language)
	cfg.Recognition.Accent = getEnv("IAT_ACCENT", cfg.Recognition.Accent)
	cfg.Recognition.Domain = getEnv("IAT_DOMAIN", cfg.Recognition.Domain)

	cfg.Transcription.Language = getEnv("RTASR_LANGUAGE", cfg.Transcription.Language)
	cfg.Transcription.Accent = getEnv("RTASR_ACCENT", cfg.Transcription.Accent)
	cfg.Transcription.Domain = getEnv("RTASR_DOMAIN", cfg.Transcription.Domain)
}

func (c *Config) Backoff() shared.BackoffConfig {
	return shared.BackoffConfig{
		Initial:     c.Retry.InitialDelay,
		MaxAttempts: c.Retry.MaxRetries,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

// Session is the lifecycle configuration shared by every client.
func (c *Config) Session(m *metrics.Metrics) session.Config {
	return session.Config{
		Backoff:          c.Backoff(),
		HandshakeTimeout: c.HandshakeTimeout,
		IdleTimeout:      c.IdleTimeout,
		WatchdogInterval: c.WatchdogInterval,
		SilenceWarning:   c.SilenceWarning,
		KeepAlive:        c.KeepAlive,
		Metrics:          m,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
