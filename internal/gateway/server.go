// Package gateway serves the Telegram webhook and the read-only status
// endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/master-pd/bot-master/internal/config"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/pipeline"
	"github.com/master-pd/bot-master/internal/ratelimit"
	"github.com/master-pd/bot-master/internal/store"
)

const defaultMaxBody = 1 << 20

// Deps are the collaborators behind the HTTP surface. Stores may be nil.
type Deps struct {
	Pool     *pipeline.Pool
	Limiter  *ratelimit.Limiter
	Registry *features.Registry
	Stats    *pipeline.Stats
	Stores   *store.Stores
	Version  string
}

// Server is the HTTP gateway.
type Server struct {
	cfg     *config.Config
	d       Deps
	started time.Time

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, d Deps) *Server {
	if d.Stats == nil {
		d.Stats = &pipeline.Stats{}
	}
	return &Server{cfg: cfg, d: d, started: time.Now()}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.webhookPath(), s.handleWebhook)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/features", s.handleFeatures)

	s.mux = mux
	return mux
}

func (s *Server) webhookPath() string {
	if p := s.cfg.Webhook.Path; p != "" {
		return p
	}
	return "/webhook"
}

// Start listens until ctx is canceled, then shuts down gracefully within
// the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Gateway.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", ln.Addr().String(), "webhook", s.webhookPath())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Gateway.Shutdown())
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	slog.Info("gateway stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
