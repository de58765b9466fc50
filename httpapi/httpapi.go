// Package httpapi implements the signer-worker process's operational HTTP
// surface: a liveness probe and a status endpoint listing the (chain,
// network, signer) targets the process is running workers for, plus a
// shallow view of each configured target's DLQ backend. Grounded on the
// teacher's api.API: chi.Mux, go-chi/cors, and the middleware.Recoverer/
// Timeout stack, trimmed down from the teacher's full voting/worker-auth
// API surface to the handful of routes this service actually needs.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chainsigner/signer-core/log"
)

// TargetStatus describes one running Signing Worker for the /status
// response.
type TargetStatus struct {
	Chain      string `json:"chain"`
	Network    string `json:"network"`
	Signer     string `json:"signer"`
	DLQBackend string `json:"dlqBackend"`
	QueueURL   string `json:"dlqUrl,omitempty"`
}

// Server is the signer-worker process's HTTP status surface.
type Server struct {
	router *chi.Mux
	http   *http.Server
}

// New builds a Server reporting targets from /status, alongside a /healthz
// liveness probe.
func New(targets []TargetStatus) *Server {
	s := &Server{router: chi.NewRouter()}

	s.router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(targets); err != nil {
			log.Warnw("failed to encode /status response", "err", err)
		}
	})

	return s
}

// Router returns the chi router, for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server in the background on host:port. A failure to
// bind is logged, not fatal: the signing workers do not depend on this
// surface to make progress.
func (s *Server) Start(host string, port int) {
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.router,
	}
	go func() {
		log.Infow("starting http status server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("http status server stopped", "err", err)
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
