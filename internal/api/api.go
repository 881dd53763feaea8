// Package api provides HTTP handlers and the API server for DealerFlow.
//
// It exposes RESTful endpoints for running workflow turns, registering
// workflow definitions, inspecting conversation state, managing the verified
// price book, and receiving inbound Twilio webhooks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/motorline/dealerflow/internal/engine"
	"github.com/motorline/dealerflow/internal/messaging"
	"github.com/motorline/dealerflow/internal/store"
)

// Server timeouts
const (
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// Server holds the wired modules the handlers need.
type Server struct {
	runner   *engine.Runner
	states   *engine.StateStore
	registry *engine.Registry
	st       store.Store
	pipeline *messaging.Pipeline

	httpServer *http.Server
}

// NewServer wires an API server. The pipeline may be nil when no delivery
// channel is configured; the webhook endpoint then answers 503.
func NewServer(runner *engine.Runner, states *engine.StateStore, registry *engine.Registry,
	st store.Store, pipeline *messaging.Pipeline) *Server {
	return &Server{
		runner:   runner,
		states:   states,
		registry: registry,
		st:       st,
		pipeline: pipeline,
	}
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/run", s.runHandler)
	mux.HandleFunc("/v1/workflows", s.workflowsHandler)
	mux.HandleFunc("/v1/state", s.stateHandler)
	mux.HandleFunc("/v1/prices", s.pricesHandler)
	mux.HandleFunc("/v1/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}

	slog.Info("DealerFlow API listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}
