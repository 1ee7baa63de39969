package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ternarybob/arbor"

	"github.com/kestrelfin/ledgersync/internal/common"
)

// Server is the ingress HTTP server of spec.md §6, grounded in the
// teacher's internal/server/server.go Start/Shutdown lifecycle but routed
// through chi rather than the stdlib ServeMux, per drewjst-recon's API
// server.
type Server struct {
	cfg    *common.Config
	logger arbor.ILogger
	http   *http.Server
	hub    *StatusHub
}

// New builds the server's routes and underlying http.Server.
func New(cfg *common.Config, logger arbor.ILogger, ingress *IngressHandler, hub *StatusHub) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Ingress.BearerToken))
		r.Post("/runs", ingress.ServeHTTP)
		r.Get("/status/{runID}", statusStreamHandler(hub))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		cfg:    cfg,
		logger: logger,
		hub:    hub,
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 360 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.http.Addr).Msg("ledgersync HTTP server starting")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down ledgersync HTTP server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusStreamHandler upgrades to a websocket and relays StatusEvents for
// one run ID until the client disconnects.
func statusStreamHandler(hub *StatusHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events, unsubscribe := hub.Subscribe(runID)
		defer unsubscribe()

		for event := range events {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
