package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// StatusServer reports the progress of an optimization over HTTP.
type StatusServer struct {
	server    *http.Server
	optimizer *Optimizer
	logger    *zap.Logger
}

// NewStatusServer creates a status server listening on port.
func NewStatusServer(o *Optimizer, port int, logger *zap.Logger) *StatusServer {
	s := &StatusServer{
		optimizer: o,
		logger:    logger.Named("status-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler routes /status and /health.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *StatusServer) Start() {
	s.logger.Info("Starting status server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *StatusServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping status server...")
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	p := s.optimizer.Progress()
	status := struct {
		Progress
		Uptime string `json:"uptime"`
	}{
		Progress: p,
		Uptime:   time.Since(p.StartTime).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
