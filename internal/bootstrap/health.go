package bootstrap

import (
	"github.com/eleven-am/voice-stream/internal/health"
	"github.com/eleven-am/voice-stream/internal/playback"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transcription"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideHealthHandler(
	redis *redis.Client,
	signer signature.Signer,
	pool *transcription.Pool,
	device *playback.Device,
	reg *prometheus.Registry,
) *health.Handler {
	var dev health.Device
	if device != nil {
		dev = device
	}
	return health.NewHandler(redis, signer, pool, dev, reg, version)
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
