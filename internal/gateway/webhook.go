package gateway

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/master-pd/bot-master/internal/pipeline"
	"github.com/master-pd/bot-master/internal/update"
)

// SecretHeader carries the secret registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const ingressAction = "webhook"

// ErrUnauthorized is the webhook secret mismatch.
var ErrUnauthorized = errors.New("gateway: unauthorized")

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)

	if err := s.checkSecret(r); err != nil {
		slog.Warn("security.webhook_unauthorized", "ip", ip, "path", r.URL.Path)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	if s.d.Limiter != nil {
		limit := s.cfg.Webhook.IngressLimit
		if limit <= 0 {
			limit = 100
		}
		res := s.d.Limiter.Check(r.Context(), "ip:"+ip, ingressAction, limit, s.cfg.Webhook.Window())
		if !res.Allowed {
			slog.Info("security.webhook_rate_limited", "ip", ip, "retry_after", res.RetryAfterSeconds(), "backend", res.Backend)
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	maxBody := s.cfg.Webhook.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := update.Validate(body)
	if err != nil {
		slog.Debug("webhook update rejected", "ip", ip, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.d.Pool.Submit(ev)
	switch {
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrClosed):
		slog.Warn("webhook update shed", "update_id", ev.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "busy")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Debug("webhook update accepted", "update_id", ev.ID, "kind", ev.Kind, "job_id", jobID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) checkSecret(r *http.Request) error {
	secret := s.cfg.Webhook.Secret
	if secret == "" {
		return nil
	}
	got := r.Header.Get(SecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// clientIP returns the peer address, or the first forwarded address when
// the gateway sits behind a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.Webhook.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
