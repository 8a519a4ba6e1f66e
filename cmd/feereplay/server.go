package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// progress is the replay state reported by /healthz.
type progress struct {
	RunID     string `json:"runId"`
	Processed uint64 `json:"processed"`
	Total     int    `json:"total"`
	Height    uint64 `json:"height"`
	Epoch     uint16 `json:"epoch"`
	Done      bool   `json:"done"`
}

type statusServer struct {
	state  atomic.Pointer[progress]
	server *http.Server
	logger *slog.Logger
}

func newStatusServer(addr, runID string, total int, logger *slog.Logger) *statusServer {
	s := &statusServer{logger: logger}
	s.state.Store(&progress{RunID: runID, Total: total})
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *statusServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.state.Load())
	})
	return r
}

func (s *statusServer) update(p progress) {
	s.state.Store(&p)
}

func (s *statusServer) start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	s.logger.Info("metrics server listening", slog.String("addr", s.server.Addr))
}

func (s *statusServer) shutdown(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", slog.Any("error", err))
	}
}
