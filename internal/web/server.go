// Package web exposes the engine's operating surface over HTTP:
// starting and polling audit batches, approving and rejecting
// reconciliations, and reading counters. Authentication is an external
// concern; the approver id in requests is treated as opaque.
package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rodovia-recon/internal/audit"
	"github.com/rodovia-recon/internal/config"
	"github.com/rodovia-recon/internal/ledger"
	"github.com/rodovia-recon/internal/store"
)

// Config holds server settings, loaded from the environment.
type Config struct {
	Host string
	Port int
}

// ConfigFromEnv reads server settings with defaults.
func ConfigFromEnv() *Config {
	return &Config{
		Host: config.GetEnv("HTTP_HOST", "0.0.0.0"),
		Port: config.GetEnvInt("HTTP_PORT", 8080),
	}
}

// Server is the HTTP front of the reconciliation engine.
type Server struct {
	config     *Config
	httpServer *http.Server
	router     *mux.Router
}

// NewServer wires the handlers around the store, ledger and job
// manager.
func NewServer(cfg *Config, st store.Store, ldg *ledger.Ledger, jobs *audit.Manager) *Server {
	s := &Server{config: cfg}

	h := &Handler{Store: st, Ledger: ldg, Jobs: jobs}
	s.router = mux.NewRouter()
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/audits", h.StartAudit).Methods("POST")
	api.HandleFunc("/audits", h.ListAudits).Methods("GET")
	api.HandleFunc("/audits/{id}", h.GetAudit).Methods("GET")
	api.HandleFunc("/audits/{id}/cancel", h.CancelAudit).Methods("POST")

	api.HandleFunc("/reconciliations", h.ListReconciliations).Methods("GET")
	api.HandleFunc("/reconciliations/{id}", h.GetReconciliation).Methods("GET")
	api.HandleFunc("/reconciliations/{id}/approve", h.Approve).Methods("POST")
	api.HandleFunc("/reconciliations/{id}/reject", h.Reject).Methods("POST")

	api.HandleFunc("/counters", h.GetCounters).Methods("GET")

	s.router.Use(CORS())
	s.router.Use(RequestLogging())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router exposes the configured handler chain, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logrus.WithField("addr", s.httpServer.Addr).Info("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("http server error")
		}
	}()

	<-stop
	logrus.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
