package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eleven-am/voice-stream/internal/recognition"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/synthesis"
	"go.uber.org/fx"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(configFileEnv, "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerAddr != ":8080" || cfg.LogLevel != "info" {
		t.Errorf("unexpected server defaults %q %q", cfg.ServerAddr, cfg.LogLevel)
	}
	if cfg.Synthesis != synthesis.DefaultBusiness() {
		t.Errorf("unexpected synthesis defaults %+v", cfg.Synthesis)
	}
	if cfg.Recognition != recognition.DefaultOptions() {
		t.Errorf("unexpected recognition defaults %+v", cfg.Recognition)
	}
	b := cfg.Backoff()
	if b.MaxAttempts != shared.DefaultMaxAttempts || b.Initial != shared.DefaultInitial {
		t.Errorf("unexpected backoff %+v", b)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.yaml")
	yaml := `
server_addr: ":9090"
log_level: debug
retry:
  max_retries: 0
  initial_delay: 250ms
synthesis:
  vcn: xiaoyan
  speed: 70
recognition:
  language: en_us
transcription:
  language: en_us
  domain: tech
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configFileEnv, path)
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("TTS_SAMPLE_RATE", "8000")
	t.Setenv("IDLE_TIMEOUT", "5s")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerAddr != ":7070" {
		t.Errorf("environment should override file, got %q", cfg.ServerAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected file log level, got %q", cfg.LogLevel)
	}
	if cfg.Retry.MaxRetries != 0 || cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("unexpected retry %+v", cfg.Retry)
	}
	if cfg.Retry.MaxDelay != shared.DefaultMaxDelay {
		t.Errorf("unset retry fields keep defaults, got %v", cfg.Retry.MaxDelay)
	}
	if cfg.Synthesis.Vcn != "xiaoyan" || cfg.Synthesis.Speed != 70 {
		t.Errorf("unexpected synthesis %+v", cfg.Synthesis)
	}
	if cfg.Synthesis.SampleRate() != 8000 {
		t.Errorf("expected 8000 Hz, got %d", cfg.Synthesis.SampleRate())
	}
	if cfg.Recognition.Language != "en_us" || cfg.Recognition.Accent != recognition.DefaultOptions().Accent {
		t.Errorf("unexpected recognition %+v", cfg.Recognition)
	}
	if cfg.Transcription.Language != "en_us" || cfg.Transcription.Domain != "tech" {
		t.Errorf("unexpected transcription %+v", cfg.Transcription)
	}
	if cfg.IdleTimeout != 5*time.Second {
		t.Errorf("expected idle timeout 5s, got %v", cfg.IdleTimeout)
	}
	if cfg.RedisDB != 0 {
		t.Errorf("invalid integers keep the default, got %d", cfg.RedisDB)
	}
}

func TestLoadConfig_BadFile(t *testing.T) {
	t.Setenv(configFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Error("expected an error for a missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("retry: [1, 2"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configFileEnv, path)
	if _, err := LoadConfig(); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestConfig_Session(t *testing.T) {
	cfg := defaultConfig()
	cfg.KeepAlive = 12 * time.Second
	s := cfg.Session(nil)
	if s.KeepAlive != 12*time.Second || s.HandshakeTimeout != cfg.HandshakeTimeout {
		t.Errorf("unexpected session config %+v", s)
	}
	if s.Backoff != cfg.Backoff() {
		t.Errorf("session backoff should mirror retry config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAppModule_Validates(t *testing.T) {
	if err := fx.ValidateApp(AppModule); err != nil {
		t.Fatalf("dependency graph: %v", err)
	}
}
