package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHeartbeat       = 15 * time.Second
)

// Server exposes the chats of a Registry over HTTP.
type Server struct {
	registry  *Registry
	router    *events.EventRouter
	gatherer  prometheus.Gatherer
	heartbeat time.Duration
	origins   []string

	echo *echo.Echo
}

type Option func(*Server)

// WithEventRouter enables the event stream endpoint.
func WithEventRouter(router *events.EventRouter) Option {
	return func(s *Server) {
		s.router = router
	}
}

// WithGatherer serves the metrics of gatherer on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func WithHeartbeat(interval time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = interval
	}
}

// WithAllowedOrigins restricts CORS. By default every origin is allowed.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

func NewServer(registry *Registry, options ...Option) *Server {
	ret := &Server{
		registry:  registry,
		heartbeat: DefaultHeartbeat,
		origins:   []string{"*"},
	}
	for _, o := range options {
		o(ret)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: ret.origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	e.GET("/healthz", ret.handleHealth)
	if ret.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(ret.gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/chats")
	api.POST("", ret.handleCreateChat)
	api.GET("/:id", ret.handleGetChat)
	api.DELETE("/:id", ret.handleDeleteChat)
	api.POST("/:id/messages", ret.handleSubmit)
	api.POST("/:id/retry", ret.handleRetry)
	api.POST("/:id/messages/:msgId/edit", ret.handleEdit)
	api.POST("/:id/messages/:msgId/submit", ret.handleSubmitDraft)
	api.POST("/:id/messages/:msgId/branches/:index", ret.handleNavigate)
	api.POST("/:id/restore", ret.handleRestore)
	api.DELETE("/:id/pending", ret.handleCancel)
	api.POST("/:id/reset", ret.handleReset)
	api.GET("/:id/events", ret.handleEvents)

	ret.echo = e
	return ret
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on address until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, address string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", address).Msg("starting server")
		errCh <- s.echo.Start(address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down server")
	}
	return nil
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l := log.Debug()
			if v.Error != nil {
				l = log.Warn().Err(v.Error)
			}
			l.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}
