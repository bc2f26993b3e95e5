// Package server constructs and starts the multiplexer's HTTP listener with
// production timeouts.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server binds the listening address and accepts WebSocket connections into
// its Hub.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
	shutdown   bool
}

// NewServer creates a Server from cfg. A nil logger uses slog.Default().
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.sanitize()

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		hub:      NewHub(cfg, logger),
		serveErr: make(chan error, 1),
	}
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	s.handler = s.routes()
	return s
}

// Hub returns the hub the host application polls.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler serving /ws, /healthz and /stats.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Start binds the configured address and serves in the background. A bind
// failure is returned wrapped in ErrBind.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrServerClosed
	}
	if s.listener != nil {
		return errors.New("server: already started")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, s.cfg.ListenAddr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.logger.Info("server listening", "addr", ln.Addr().String())

	httpServer := s.httpServer
	go func() {
		err := httpServer.Serve(newAcceptListener(ln, s.logger))
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until the accept loop exits and returns its error, or until
// ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case err := <-s.serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting connections, then closes every client and waits
// for their goroutines, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("shutting down server")

	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
