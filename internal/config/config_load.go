package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			SendRPS:   25,
			SendBurst: 5,
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BotName:         "bot-master",
			ShutdownTimeout: "15s",
		},
		Webhook: WebhookConfig{
			Path:          "/webhook",
			MaxBodyBytes:  1 << 20,
			IngressLimit:  100,
			IngressWindow: "60s",
		},
		RateLimit: RateLimitConfig{
			BackendTimeout:  "250ms",
			JanitorSchedule: "* * * * *",
			UserLimit:       20,
			UserWindow:      "60s",
		},
		Spam: SpamConfig{
			Enabled:     true,
			BurstLimit:  5,
			BurstWindow: "10s",
		},
		Permissions: PermissionsConfig{
			LookupTimeout: "2s",
		},
		Pipeline: PipelineConfig{
			Workers:               8,
			QueueSize:             256,
			JobTimeout:            "30s",
			HandlerTimeout:        "10s",
			NotifyPrivateThrottle: true,
			NotifyOwnerOnError:    true,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.botmaster/botmaster.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "botmaster",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets
	envStr("BOTMASTER_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("BOTMASTER_WEBHOOK_SECRET", &c.Webhook.Secret)
	envStr("BOTMASTER_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("BOTMASTER_REDIS_PASSWORD", &c.Redis.Password)

	envStr("BOTMASTER_TELEGRAM_PROXY", &c.Telegram.Proxy)
	envStr("BOTMASTER_WEBHOOK_URL", &c.Webhook.URL)

	// Gateway host/port
	envStr("BOTMASTER_HOST", &c.Gateway.Host)
	if v := os.Getenv("BOTMASTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	if v := os.Getenv("BOTMASTER_OWNER_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Permissions.PlatformOwnerID = FlexibleInt64(id)
		}
	}

	// Storage
	envStr("BOTMASTER_DB_DRIVER", &c.Database.Driver)
	envStr("BOTMASTER_SQLITE_PATH", &c.Database.SQLitePath)
	if c.Database.PostgresDSN != "" && os.Getenv("BOTMASTER_DB_DRIVER") == "" {
		c.Database.Driver = "postgres"
	}
	envStr("BOTMASTER_REDIS_ADDR", &c.Redis.Addr)
	envInt("BOTMASTER_REDIS_DB", &c.Redis.DB)

	// Pipeline
	envInt("BOTMASTER_WORKERS", &c.Pipeline.Workers)
	envInt("BOTMASTER_QUEUE_SIZE", &c.Pipeline.QueueSize)

	// Telemetry
	envStr("BOTMASTER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTMASTER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BOTMASTER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("BOTMASTER_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("BOTMASTER_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Disabled features from env (comma-separated)
	if v := os.Getenv("BOTMASTER_DISABLED_FEATURES"); v != "" {
		c.Features.Disabled = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		errs = append(errs, fmt.Errorf("webhook.path %q must start with /", c.Webhook.Path))
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("webhook.max_body_bytes must be positive"))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("pipeline.workers must be positive"))
	}
	if c.Pipeline.QueueSize < 0 {
		errs = append(errs, errors.New("pipeline.queue_size must not be negative"))
	}
	switch c.Database.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("database.driver is postgres but BOTMASTER_POSTGRES_DSN is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol %q not supported", c.Telemetry.Protocol))
	}
	return errors.Join(errs...)
}

// Hash returns a short SHA-256 fingerprint of the non-secret config, shown
// by /api/status so operators can tell which config a process runs.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
