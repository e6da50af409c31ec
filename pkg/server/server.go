package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/webrelay/pkg/config"
	"mercator-hq/webrelay/pkg/dispatcher"
	"mercator-hq/webrelay/pkg/files"
	"mercator-hq/webrelay/pkg/proxy/handlers"
	"mercator-hq/webrelay/pkg/proxy/middleware"
	"mercator-hq/webrelay/pkg/security/auth"
	"mercator-hq/webrelay/pkg/telemetry/health"
)

// Deps are the services the server exposes. Only Dispatcher is required.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher

	// Files serves /files/{name}. Nil disables the route.
	Files *files.Store

	// Health backs /health, /ready and /version.
	Health *health.Checker

	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string

	// Auth guards the completion and model endpoints. Nil leaves them open.
	Auth *auth.Middleware

	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP front-end of the relay.
type Server struct {
	config       *config.ProxyConfig
	deps         Deps
	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
}

// NewServer creates a new server.
func NewServer(cfg *config.ProxyConfig, deps Deps) *Server {
	return &Server{
		config:       cfg,
		deps:         deps,
		shutdownChan: make(chan struct{}),
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled, a termination signal arrives or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting relay server",
			"address", ln.Addr().String(),
			"auth_enabled", s.deps.Auth != nil,
			"websocket_enabled", s.config.WebSocket.Enabled,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		slog.Info("shutdown requested")
	}
	return s.Shutdown(context.Background())
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown gracefully shuts down the server. Open streams get
// ShutdownTimeout to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		slog.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("relay server stopped")
	})

	return shutdownErr
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	d := s.deps.Dispatcher

	api := http.NewServeMux()
	chat := handlers.NewChatHandler(d, s.config.MaxBodyBytes)
	models := handlers.NewModelsHandler(d.Registry())
	for _, prefix := range []string{"", "/api/openai"} {
		api.Handle(prefix+"/v1/chat/completions", chat)
		api.Handle("GET "+prefix+"/v1/models", models)
	}
	if s.config.WebSocket.Enabled {
		api.Handle("GET /v1/chat/completions/ws", handlers.NewWebSocketHandler(d, *s.config))
	}

	var apiHandler http.Handler = api
	if s.deps.Auth != nil {
		apiHandler = s.deps.Auth.Handle(apiHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiHandler)
	mux.Handle("/api/openai/", apiHandler)

	// Generated file names are content hashes; the routes stay open so
	// markdown image links render in clients that cannot send a key.
	if s.deps.Files != nil {
		fh := handlers.NewFilesHandler(s.deps.Files)
		mux.Handle("GET /files/{name}", fh)
		mux.Handle("GET /image/{name}", fh)
	}

	if s.deps.Health != nil {
		health.Register(mux, s.deps.Health, s.deps.Version, s.deps.Commit, s.deps.BuildTime)
	}
	if s.deps.Metrics != nil && s.deps.MetricsPath != "" {
		mux.Handle(s.deps.MetricsPath, s.deps.Metrics)
	}

	var handler http.Handler = mux
	handler = middleware.TimeoutMiddleware(s.config.WriteTimeout)(handler)
	handler = middleware.CORSMiddleware(s.config.CORS)(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound address while running.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}
