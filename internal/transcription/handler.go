package transcription

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/labstack/echo/v4"
)

// ConnectionsHandler exposes the pool over HTTP. Query parameters left
// empty fall back to defaults.
type ConnectionsHandler struct {
	pool     *Pool
	defaults Params
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[string]bool
}

func NewConnectionsHandler(pool *Pool, defaults Params, logger *slog.Logger) *ConnectionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionsHandler{
		pool:     pool,
		defaults: defaults,
		logger:   logger.With("handler", "transcription"),
		streams:  make(map[string]bool),
	}
}

func (h *ConnectionsHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/connections", h.HandleList)
	g.DELETE("/connections", h.HandleRelease)
	g.POST("/connections/cleanup", h.HandleCleanup)
	g.GET("/stream", h.HandleStream)
}

type ConnectionsResponse struct {
	Total       int                `json:"total"`
	Connections []ConnectionStatus `json:"connections"`
}

type ReleaseResponse struct {
	Fingerprint string `json:"fingerprint"`
	Released    bool   `json:"released"`
}

type CleanupResponse struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

func (h *ConnectionsHandler) paramsFromQuery(c echo.Context) Params {
	return Params{
		Target:   query(c, "target", h.defaults.Target),
		Language: query(c, "language", h.defaults.Language),
		Accent:   query(c, "accent", h.defaults.Accent),
		Domain:   query(c, "domain", h.defaults.Domain),
	}
}

func query(c echo.Context, name, fallback string) string {
	if v := c.QueryParam(name); v != "" {
		return v
	}
	return fallback
}

// HandleList reports every pooled connection.
func (h *ConnectionsHandler) HandleList(c echo.Context) error {
	conns := h.pool.Statuses()
	return c.JSON(http.StatusOK, ConnectionsResponse{
		Total:       len(conns),
		Connections: conns,
	})
}

// HandleRelease closes the pooled connection matching the query parameters.
func (h *ConnectionsHandler) HandleRelease(c echo.Context) error {
	params := h.paramsFromQuery(c)
	if !h.pool.Release(params) {
		return shared.NotFound("not_found", "No pooled connection for these parameters")
	}
	h.logger.Info("pooled connection released", "fingerprint", params.Fingerprint())
	return c.JSON(http.StatusOK, ReleaseResponse{
		Fingerprint: params.Fingerprint(),
		Released:    true,
	})
}

func (h *ConnectionsHandler) HandleCleanup(c echo.Context) error {
	removed := h.pool.Cleanup()
	return c.JSON(http.StatusOK, CleanupResponse{
		Removed:   removed,
		Remaining: h.pool.Count(),
	})
}
