// Package server exposes the SessionManager's nine tool-surface
// operations as a chi-routed JSON API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sessiond/sessiond/internal/command"
	"github.com/sessiond/sessiond/internal/manager"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // session reads may block on wait=true
	}
}

// Server is the HTTP server fronting a Manager.
type Server struct {
	config     *Config
	router     *chi.Mux
	httpSrv    *http.Server
	manager    *manager.Manager
	dispatcher command.Dispatcher
}

// New creates a Server. dispatcher may be nil, in which case a no-op
// dispatcher (handled=false always) is used, routing every send straight
// to the session.
func New(cfg *Config, mgr *manager.Manager, dispatcher command.Dispatcher) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}

	s := &Server{
		config:     cfg,
		router:     chi.NewRouter(),
		manager:    mgr,
		dispatcher: dispatcher,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, string, string) (bool, string, error) {
	return false, "", nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-Id", "X-Channel-Id"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleSpawn)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/resume", s.handleResume)
			r.Post("/send", s.handleSend)
			r.Get("/messages", s.handleRead)
			r.Post("/respond", s.handleRespond)
			r.Post("/switch", s.handleSwitch)
			r.Post("/stop", s.handleStop)
			r.Get("/summary", s.handleSummary)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
