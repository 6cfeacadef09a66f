package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/bdobrica/kotoba/common/version"
)

// Stats is a point-in-time view of the running pipeline.
type Stats struct {
	Intents         int    `json:"intents"`
	Commands        int    `json:"commands"`
	PendingProfiles int    `json:"pending_profile_writes"`
	PendingMemories int    `json:"pending_memory_writes"`
	DroppedEvents   uint64 `json:"dropped_events"`
}

// statsProvider is what the health server needs from App.
type statsProvider interface {
	Stats() Stats
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	Stats      Stats     `json:"stats"`
}

// HealthServer exposes GET /health and GET /status.
type HealthServer struct {
	addr      string
	stats     statsProvider
	startedAt time.Time
	mux       *http.ServeMux
	logger    *slog.Logger
}

// NewHealthServer configures the server; Run starts it.
func NewHealthServer(addr string, sp statsProvider, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := &HealthServer{
		addr:      addr,
		stats:     sp,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	hs.mux.HandleFunc("GET /health", hs.handleHealth)
	hs.mux.HandleFunc("GET /status", hs.handleStatus)
	return hs
}

// ServeHTTP lets tests drive the server with httptest.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Run listens on the configured address and serves until ctx is done.
func (h *HealthServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}
	srv := &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("health server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("health server shutdown error", "err", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.stats != nil {
		resp.Stats = h.stats.Stats()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("health: failed to encode JSON response", "err", err)
	}
}
