// Package web exposes the check-in engine over HTTP to capture clients
// and the surrounding congregation-management system.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/congregio/checkin-engine/internal/anomaly"
	"github.com/congregio/checkin-engine/internal/certificates"
	"github.com/congregio/checkin-engine/internal/checkin"
	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/descriptors"
	"github.com/congregio/checkin-engine/internal/match"
	"github.com/congregio/checkin-engine/internal/sessions"
	"github.com/congregio/checkin-engine/internal/web/middleware"
)

// Engine bundles the components the HTTP layer routes to.
type Engine struct {
	Consent      *consent.Ledger
	Descriptors  *descriptors.Store
	Matcher      *match.Engine
	Sessions     *sessions.Manager
	CheckIns     *checkin.StateMachine
	Detector     *anomaly.Detector
	Certificates *certificates.Issuer
	CheckInStore database.CheckInStore
}

// Server represents the web server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	detector   *anomaly.Detector
}

// NewServer creates a web server over the given engine components.
func NewServer(cfg *config.Config, engine Engine, host string, port int) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		detector: engine.Detector,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS())

	s.setupRoutes(engine)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and the anomaly observer.
func (s *Server) Start() error {
	if s.detector != nil {
		s.detector.Start()
	}
	log.Printf("Starting check-in engine on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and stops the anomaly
// observer after in-flight requests drain.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down check-in engine...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if s.detector != nil {
		s.detector.Stop()
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
