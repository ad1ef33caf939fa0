package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/pipeline"
	"github.com/master-pd/bot-master/internal/ratelimit"
)

const pingTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := s.d.Stores.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type featureInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type infoResponse struct {
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Features []featureInfo `json:"features"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	name := s.cfg.Gateway.BotName
	if name == "" {
		name = "botmaster"
	}
	resp := infoResponse{Name: name, Version: s.d.Version, Features: []featureInfo{}}
	for _, f := range s.summaries() {
		resp.Features = append(resp.Features, featureInfo{Name: f.Name, Version: f.Version})
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	ConfigHash    string                 `json:"config_hash"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Pending       int                    `json:"pending"`
	Features      int                    `json:"features"`
	Backends      map[string]string      `json:"backends"`
	Stats         pipeline.StatsSnapshot `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		Version:       s.d.Version,
		ConfigHash:    s.cfg.Hash(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Features:      len(s.summaries()),
		Backends:      map[string]string{"ratelimit": ratelimit.BackendLocal, "store": "none"},
		Stats:         s.d.Stats.Snapshot(),
	}
	if s.d.Pool != nil {
		resp.Pending = s.d.Pool.Pending()
	}
	if s.d.Limiter != nil && s.d.Limiter.Shared() {
		resp.Backends["ratelimit"] = ratelimit.BackendRedis
	}
	if s.d.Stores != nil {
		resp.Backends["store"] = s.d.Stores.Backend
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"features": s.summaries()})
}

func (s *Server) summaries() []features.Summary {
	if s.d.Registry == nil {
		return []features.Summary{}
	}
	return s.d.Registry.Summaries()
}
