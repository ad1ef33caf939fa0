package tracing

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/master-pd/bot-master/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetup_Errors(t *testing.T) {
	cases := map[string]config.TelemetryConfig{
		"no endpoint":  {Enabled: true},
		"bad protocol": {Enabled: true, Endpoint: "localhost:4317", Protocol: "udp"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Setup(context.Background(), cfg, "test"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSetup_HTTPInstallsProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "127.0.0.1:1",
		Protocol: "HTTP",
		Insecure: true,
		Headers:  map[string]string{"x-team": "bots"},
	}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if otel.GetTracerProvider() == prev {
		t.Fatal("global provider not replaced")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
