package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Webhook.Path != "/webhook" || cfg.Webhook.IngressLimit != 100 || cfg.RateLimit.UserLimit != 20 {
		t.Fatalf("unexpected defaults: %+v", cfg.Webhook)
	}
	if !cfg.Spam.Enabled || cfg.Spam.Window() != 10*time.Second {
		t.Fatalf("spam defaults: %+v", cfg.Spam)
	}
}

func TestLoad_JSON5AndOverrides(t *testing.T) {
	path := writeConfig(t, `{
		// comments and trailing commas are fine
		gateway: { host: "127.0.0.1", port: 9000, },
		spam: { enabled: false, burst_limit: 8, burst_window: "20s" },
		permissions: { platform_owner_id: "12345" },
		features: { disabled: ["autoreply"] },
	}`)

	t.Setenv("BOTMASTER_PORT", "9100")
	t.Setenv("BOTMASTER_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("BOTMASTER_WEBHOOK_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 9100 {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Spam.Enabled || cfg.Spam.BurstLimit != 8 || cfg.Spam.Window() != 20*time.Second {
		t.Fatalf("spam = %+v", cfg.Spam)
	}
	if cfg.Permissions.PlatformOwnerID != 12345 {
		t.Fatalf("owner id = %d", cfg.Permissions.PlatformOwnerID)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Webhook.Secret != "s3cret" {
		t.Fatal("env secrets not applied")
	}
	if cfg.FeatureEnabled("autoreply") || !cfg.FeatureEnabled("help") {
		t.Fatal("features.disabled not honoured")
	}
}

func TestLoad_SecretsNotReadFromFile(t *testing.T) {
	path := writeConfig(t, `{"telegram": {"token": "leaked"}, "webhook": {"path": "/hook", "secret": "leaked"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "" || cfg.Webhook.Secret != "" {
		t.Fatal("secrets must come from env only")
	}
	if cfg.Webhook.Path != "/hook" {
		t.Fatalf("path = %q", cfg.Webhook.Path)
	}
}

func TestLoad_PostgresDSNSelectsDriver(t *testing.T) {
	t.Setenv("BOTMASTER_POSTGRES_DSN", "postgres://localhost/bot")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad json":       `{gateway: `,
		"bad port":       `{gateway: {port: 70000}}`,
		"bad path":       `{webhook: {path: "hook"}}`,
		"pg without dsn": `{database: {driver: "postgres"}}`,
		"bad driver":     `{database: {driver: "mongo"}}`,
		"bad protocol":   `{telemetry: {protocol: "udp"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if Duration("", time.Second) != time.Second {
		t.Error("empty should use default")
	}
	if Duration("garbage", time.Second) != time.Second {
		t.Error("malformed should use default")
	}
	if Duration("-5s", time.Second) != time.Second {
		t.Error("negative should use default")
	}
	if Duration("1500ms", time.Second) != 1500*time.Millisecond {
		t.Error("valid duration not parsed")
	}
}

func TestFlexibleInt64(t *testing.T) {
	var v FlexibleInt64
	for in, want := range map[string]int64{`42`: 42, `"42"`: 42, `""`: 0} {
		if err := v.UnmarshalJSON([]byte(in)); err != nil || int64(v) != want {
			t.Errorf("UnmarshalJSON(%s) = %d, %v", in, v, err)
		}
	}
	if err := v.UnmarshalJSON([]byte(`"abc"`)); err == nil {
		t.Error("non-numeric string accepted")
	}
}
