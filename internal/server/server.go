// Package server exposes the observation history and a manual refresh
// trigger over HTTP.
package server

import (
	"context"
	"embed"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"orbwatch/internal/service"
	"orbwatch/internal/storage"
)

//go:embed static/index.html
var staticFS embed.FS

const (
	defaultWindow          = 7 * 24 * time.Hour
	defaultShutdownTimeout = 5 * time.Second
)

// Trigger runs one scrape cycle on demand.
type Trigger interface {
	RunCycle(ctx context.Context) (service.CycleResult, error)
}

type lastCycler interface {
	Last() (service.CycleResult, bool)
}

// Options configure the HTTP server.
type Options struct {
	Address         string
	Window          time.Duration
	MaxWindow       time.Duration
	Currency        string
	ShutdownTimeout time.Duration
	ReleaseMode     bool
}

// Server hosts the read API and the dashboard page.
type Server struct {
	opts    Options
	history storage.HistoryReader
	trigger Trigger
	logger  zerolog.Logger
	index   []byte

	httpServer *http.Server
}

// New constructs the server. trigger may be nil, in which case /api/update
// answers 503.
func New(opts Options, history storage.HistoryReader, trigger Trigger, logger zerolog.Logger) (*Server, error) {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.MaxWindow > 0 && opts.MaxWindow < opts.Window {
		opts.MaxWindow = opts.Window
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	index, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		return nil, err
	}

	return &Server{
		opts:    opts,
		history: history,
		trigger: trigger,
		logger:  logger.With().Str("component", "http").Logger(),
		index:   index,
	}, nil
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	if s.opts.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	router.GET("/", s.handleIndex)
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	api.GET("/data", s.handleData)
	api.GET("/update", s.handleUpdate)

	return router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		s.logger.Info().Msg("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
