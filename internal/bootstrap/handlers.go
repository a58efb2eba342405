package bootstrap

import (
	"log/slog"
	"os"

	"github.com/eleven-am/voice-stream/internal/audio"
	"github.com/eleven-am/voice-stream/internal/transcription"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type HandlerParams struct {
	fx.In

	AudioHandler       *audio.Handler
	ConnectionsHandler *transcription.ConnectionsHandler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/api/v1")
	params.AudioHandler.RegisterRoutes(api.Group("/audio"))
	params.ConnectionsHandler.RegisterRoutes(api.Group("/transcription"))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}
