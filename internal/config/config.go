package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// FlexibleInt64 accepts both 123 and "123" in JSON; Telegram ids are often
// pasted as strings.
type FlexibleInt64 int64

func (f *FlexibleInt64) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", s, err)
	}
	*f = FlexibleInt64(n)
	return nil
}

// Config is the root configuration for the bot-master gateway.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Gateway     GatewayConfig     `json:"gateway"`
	Webhook     WebhookConfig     `json:"webhook"`
	RateLimit   RateLimitConfig   `json:"ratelimit"`
	Spam        SpamConfig        `json:"spam"`
	Permissions PermissionsConfig `json:"permissions"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Database    DatabaseConfig    `json:"database,omitempty"`
	Redis       RedisConfig       `json:"redis,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Features    FeaturesConfig    `json:"features,omitempty"`
	mu          sync.RWMutex
}

// TelegramConfig configures the outbound Bot API client.
// Token is NEVER read from config.json (secret), only from env BOTMASTER_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Token     string  `json:"-"`
	Proxy     string  `json:"proxy,omitempty"`      // HTTP proxy URL for Bot API calls
	APIServer string  `json:"api_server,omitempty"` // custom Bot API server (default api.telegram.org)
	SendRPS   float64 `json:"send_rps,omitempty"`   // outbound message throttle (default 25/s)
	SendBurst int     `json:"send_burst,omitempty"` // outbound burst (default 5)
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	BotName         string `json:"bot_name,omitempty"`         // shown by /info
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"` // Go duration (default "15s")
}

// WebhookConfig configures the Telegram webhook endpoint.
// Secret is NEVER read from config.json, only from env BOTMASTER_WEBHOOK_SECRET.
type WebhookConfig struct {
	Path          string `json:"path"`                     // default "/webhook"
	URL           string `json:"url,omitempty"`            // public URL registered by `botmaster webhook set`
	Secret        string `json:"-"`                        // X-Telegram-Bot-Api-Secret-Token
	MaxBodyBytes  int64  `json:"max_body_bytes,omitempty"` // default 1 MiB
	IngressLimit  int    `json:"ingress_limit,omitempty"`  // requests per client IP per window (default 100)
	IngressWindow string `json:"ingress_window,omitempty"` // Go duration (default "60s")
	TrustProxy    bool   `json:"trust_proxy,omitempty"`    // take client IP from X-Forwarded-For / X-Real-IP
}

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	BackendTimeout  string `json:"backend_timeout,omitempty"`  // per Redis call (default "250ms")
	JanitorSchedule string `json:"janitor_schedule,omitempty"` // cron expression for local sweeps (default every minute)
	KeyPrefix       string `json:"key_prefix,omitempty"`       // Redis key namespace
	UserLimit       int    `json:"user_limit,omitempty"`       // messages per user per window (default 20)
	UserWindow      string `json:"user_window,omitempty"`      // Go duration (default "60s")
}

// SpamConfig configures the spam detector.
type SpamConfig struct {
	Enabled     bool     `json:"enabled"`
	BurstLimit  int      `json:"burst_limit,omitempty"`  // default 5
	BurstWindow string   `json:"burst_window,omitempty"` // Go duration (default "10s")
	ExtraTerms  []string `json:"extra_terms,omitempty"`
}

// PermissionsConfig configures the permission resolver.
type PermissionsConfig struct {
	PlatformOwnerID FlexibleInt64 `json:"platform_owner_id,omitempty"` // 0 = read chat 0 setting "platform_owner_id"
	LookupTimeout   string        `json:"lookup_timeout,omitempty"`    // Go duration (default "2s")
}

// PipelineConfig configures the worker pool and per-event processing.
type PipelineConfig struct {
	Workers               int    `json:"workers,omitempty"`         // default 8
	QueueSize             int    `json:"queue_size,omitempty"`      // default 256
	JobTimeout            string `json:"job_timeout,omitempty"`     // whole-event budget (default "30s")
	HandlerTimeout        string `json:"handler_timeout,omitempty"` // per feature (default "10s")
	NotifyPrivateThrottle bool   `json:"notify_private_throttle"`   // tell private-chat users they are throttled
	NotifyOwnerOnError    bool   `json:"notify_owner_on_error"`     // DM the platform owner on pipeline failures
}

// DatabaseConfig selects the chat settings store.
// PostgresDSN is NEVER read from config.json (secret), only from env BOTMASTER_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`      // "sqlite" (default), "postgres", "memory"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default "~/.botmaster/botmaster.db"
	PostgresDSN string `json:"-"`
}

// RedisConfig configures the shared rate-limit backend. Empty Addr means
// local-only limiting.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"-"` // from env BOTMASTER_REDIS_PASSWORD only
	DB       int    `json:"db,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (local collectors)
	ServiceName string            `json:"service_name,omitempty"` // default "botmaster"
	Headers     map[string]string `json:"headers,omitempty"`
}

// FeaturesConfig configures the built-in features.
type FeaturesConfig struct {
	Disabled       []string `json:"disabled,omitempty"`        // feature names to skip at registration
	AutoReplyRules string   `json:"autoreply_rules,omitempty"` // JSON rules file, hot reloaded
	WelcomeMessage string   `json:"welcome_message,omitempty"` // {name} and {chat} are substituted
}

// FeatureEnabled reports whether the named feature is not disabled.
func (c *Config) FeatureEnabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.Features.Disabled {
		if d == name {
			return false
		}
	}
	return true
}

// Duration parses a Go duration string, falling back to def when the
// value is empty, malformed or not positive.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Window returns the per-IP ingress window.
func (c WebhookConfig) Window() time.Duration { return Duration(c.IngressWindow, 60*time.Second) }

// Timeout returns the per-call Redis budget.
func (c RateLimitConfig) Timeout() time.Duration {
	return Duration(c.BackendTimeout, 250*time.Millisecond)
}

// Window returns the per-user message window.
func (c RateLimitConfig) Window() time.Duration { return Duration(c.UserWindow, 60*time.Second) }

func (c SpamConfig) Window() time.Duration { return Duration(c.BurstWindow, 10*time.Second) }

func (c PermissionsConfig) Timeout() time.Duration { return Duration(c.LookupTimeout, 2*time.Second) }

func (c PipelineConfig) JobBudget() time.Duration { return Duration(c.JobTimeout, 30*time.Second) }

func (c PipelineConfig) HandlerBudget() time.Duration {
	return Duration(c.HandlerTimeout, 10*time.Second)
}

func (c GatewayConfig) Shutdown() time.Duration { return Duration(c.ShutdownTimeout, 15*time.Second) }

// Addr returns the listen address.
func (c GatewayConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }
