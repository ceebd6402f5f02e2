// Package server is the store's admin surface: a small HTTP listener
// exposing health and metrics, never login contents.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/vaultline/logins/internal/telemetry"
)

// Server is the admin HTTP listener paired with a Store's underlying
// database handle, used only for a cheap reachability check.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	metrics    *telemetry.Metrics
	logger     *logrus.Logger
}

// New builds an admin Server bound to addr. metrics may be nil, in which
// case /metrics is not registered and requests to it get a 404.
func New(addr string, db *sql.DB, metrics *telemetry.Metrics, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{db: db, metrics: metrics, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	loggingWriter := logger.WriterLevel(logrus.InfoLevel)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(loggingWriter, router)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the admin server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("admin surface listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.WithError(err).Warn("healthz: database unreachable")
		http.Error(w, fmt.Sprintf("database unreachable: %v", err), http.StatusServiceUnavailable)
		return
	}
	var discard string
	err := s.db.QueryRowContext(r.Context(), `SELECT key FROM loginsSyncMeta LIMIT 1`).Scan(&discard)
	if err != nil && err != sql.ErrNoRows {
		s.logger.WithError(err).Warn("healthz: schema check failed")
		http.Error(w, fmt.Sprintf("schema check failed: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
