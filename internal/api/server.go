package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/amaumene/grainlink/internal/api/handlers"
	"github.com/amaumene/grainlink/internal/api/middleware"
	"github.com/amaumene/grainlink/internal/config"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Deps are the components the API reports on
type Deps struct {
	Boot     handlers.Skipper
	Playback handlers.PlaybackView
	Binding  handlers.BindingView
	Feed     handlers.FeedView
	History  handlers.History
	Events   *Events
	Metrics  http.Handler
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	deps   Deps
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
	}

	s.server = &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		// no write timeout: /events responses stay open
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging(s.logger, "/health", "/metrics"))

	r.Get("/health", handlers.NewHealthHandler(s.deps.Boot, s.logger).ServeHTTP)
	r.Get("/status", handlers.NewStatusHandler(s.deps.Boot, s.deps.Playback, s.deps.Binding, s.deps.Feed, s.deps.History, s.logger).ServeHTTP)
	r.Post("/skip", handlers.NewSkipHandler(s.deps.Boot, s.logger).ServeHTTP)

	if s.deps.Events != nil {
		r.Get("/events", s.deps.Events.ServeHTTP)
	}
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	return r
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if s.deps.Events != nil {
		s.deps.Events.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
