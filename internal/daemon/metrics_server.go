package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
)

type metricsServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newMetricsServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *metricsServer {
	if !cfg.Metrics.Enabled {
		return nil
	}
	bind := strings.TrimSpace(cfg.Metrics.Listen)
	if bind == "" {
		return nil
	}

	srv := &metricsServer{bind: bind, logger: logger, daemon: d}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", srv.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *metricsServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("metrics server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *metricsServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

func (s *metricsServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *metricsServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.daemon.Status(r.Context())); err != nil {
		s.logger.Debug("status encode failed", logging.Error(err))
	}
}
