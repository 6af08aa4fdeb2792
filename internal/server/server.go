package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibekraft/vibekraft/internal/config"
	"github.com/vibekraft/vibekraft/internal/lifecycle"
	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/storage"
)

// Server is the HTTP server for the VibeKraft sandbox API.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	manager   *lifecycle.Manager
	templates map[string]*sandbox.Template
	router    chi.Router
	http      *http.Server
}

// New creates a new Server.
func New(cfg *config.Config, store storage.Store, manager *lifecycle.Manager, templates map[string]*sandbox.Template) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		manager:   manager,
		templates: templates,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		// Workspace instances
		r.Get("/instances", s.handleListInstances)
		r.Post("/instances", s.handleCreateInstance)
		r.Get("/instances/{id}", s.handleGetInstance)
		r.Delete("/instances/{id}", s.handleDeleteInstance)

		// Sandbox lifecycle
		r.Post("/instances/{id}/sandbox", s.handleAcquire)
		r.Get("/sandboxes", s.handleListSandboxes)
		r.Delete("/sandboxes/{id}", s.handleRelease)

		// Templates
		r.Get("/templates", s.handleListTemplates)

		// WebSocket (no JSON content-type)
		r.Get("/events/ws", s.handleEvents)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("VibeKraft server starting on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown releases all live sandboxes, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")
	s.manager.Shutdown(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
