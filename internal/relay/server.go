package relay

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/internal/metrics"
)

// HealthResponse is the liveness probe payload
type HealthResponse struct {
	Status string `json:"status"`
}

// Options configures the relay HTTP surface
type Options struct {
	Upstream      UpstreamConfig
	ExposeMetrics bool
}

// Server is the relay process: an echo instance plus the session hub
type Server struct {
	echo   *echo.Echo
	hub    *Hub
	logger *zap.Logger
}

// NewServer builds the relay routes and starts the hub loop
func NewServer(opts Options, m *metrics.Metrics, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	hub := NewHub(opts.Upstream, m, logger)
	go hub.Run()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("HTTP request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	InitRoutes(e, hub, opts, m)

	return &Server{
		echo:   e,
		hub:    hub,
		logger: logger,
	}
}

// InitRoutes initializes the relay routes
func InitRoutes(e *echo.Echo, hub *Hub, opts Options, m *metrics.Metrics) {
	// Health check, answered regardless of active sessions
	e.Any("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	})

	if opts.ExposeMetrics {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	// Every websocket upgrade on any path becomes a relay session
	e.Any("/*", func(c echo.Context) error {
		if c.Request().Method != http.MethodGet || !websocket.IsWebSocketUpgrade(c.Request()) {
			return echo.ErrNotFound
		}
		return HandleWebSocket(hub, c)
	})
}

// Handler returns the HTTP handler of the relay
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the session hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown closes every session and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	return s.echo.Shutdown(ctx)
}
