package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/master-pd/bot-master/internal/config"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/pipeline"
	"github.com/master-pd/bot-master/internal/ratelimit"
	"github.com/master-pd/bot-master/internal/store"
	"github.com/master-pd/bot-master/internal/update"
)

const validUpdate = `{"update_id":1,"message":{"from":{"id":5,"is_bot":false},"chat":{"id":-100,"type":"group"},"text":"/help"}}`

type collector struct {
	mu     sync.Mutex
	events []*update.Event
}

func (c *collector) run(_ context.Context, job pipeline.Job) {
	c.mu.Lock()
	c.events = append(c.events, job.Event)
	c.mu.Unlock()
}

func (c *collector) ids() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.ID
	}
	return out
}

type fixture struct {
	cfg  *config.Config
	srv  *Server
	pool *pipeline.Pool
	got  *collector
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	got := &collector{}
	stats := &pipeline.Stats{}
	pool := pipeline.NewPool(pipeline.PoolConfig{Workers: 2, QueueSize: 16}, got.run, nil, stats)
	t.Cleanup(func() { pool.Close(context.Background()) })

	reg, err := features.NewBuilder().Add(features.Descriptor{
		Name:    "help",
		Version: "1.0.0",
		Events:  []update.Kind{update.KindMessage},
		Command: "help",
		Handler: func(context.Context, *features.Request) (*features.Outcome, error) { return nil, nil },
	}).Build()
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(cfg, Deps{
		Pool:     pool,
		Limiter:  ratelimit.New(ratelimit.NewLocalStore()),
		Registry: reg,
		Stats:    stats,
		Stores:   store.NewStores("memory", store.NewMemoryChatConfigStore(), nil, nil),
		Version:  "v1.2.3",
	})
	return &fixture{cfg: cfg, srv: srv, pool: pool, got: got}
}

func (f *fixture) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.BuildMux().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_Accepts(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(validUpdate, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	f.pool.Close(context.Background())
	if ids := f.got.ids(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("submitted = %v", ids)
	}
}

func TestWebhook_Secret(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Webhook.Secret = "s3cret" })

	if rec := f.post(validUpdate, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: %d", rec.Code)
	}
	if rec := f.post(validUpdate, map[string]string{SecretHeader: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: %d", rec.Code)
	}
	// Auth comes before body checks.
	if rec := f.post("not json", map[string]string{SecretHeader: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret, bad body: %d", rec.Code)
	}
	if rec := f.post(validUpdate, map[string]string{SecretHeader: "s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("right secret: %d", rec.Code)
	}
}

func TestWebhook_ContentType(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.post(validUpdate, map[string]string{"Content-Type": "text/plain"}); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("got %d", rec.Code)
	}
	if rec := f.post(validUpdate, map[string]string{"Content-Type": "application/json; charset=utf-8"}); rec.Code != http.StatusOK {
		t.Fatalf("charset param: %d", rec.Code)
	}
}

func TestWebhook_InvalidPayloads(t *testing.T) {
	f := newFixture(t, nil)
	for name, body := range map[string]string{
		"not an object":   `[1,2]`,
		"missing id":      `{"message":{"chat":{"id":1,"type":"private"}}}`,
		"zero id":         `{"update_id":0,"message":{"chat":{"id":1,"type":"private"}}}`,
		"no kind":         `{"update_id":3}`,
		"two kinds":       `{"update_id":3,"message":{"chat":{"id":1,"type":"private"}},"edited_message":{"chat":{"id":1,"type":"private"}}}`,
		"truncated JSON":  `{"update_id":3,`,
		"string id":       `{"update_id":"3","message":{"chat":{"id":1,"type":"private"}}}`,
		"fractional id":   `{"update_id":3.5,"message":{"chat":{"id":1,"type":"private"}}}`,
		"unknown kind":    `{"update_id":3,"business_message":{}}`,
		"empty body":      ``,
		"null everything": `null`,
	} {
		t.Run(name, func(t *testing.T) {
			if rec := f.post(body, nil); rec.Code != http.StatusBadRequest {
				t.Fatalf("got %d %s", rec.Code, rec.Body.String())
			}
		})
	}
	if got := f.srv.d.Stats.Snapshot().Accepted; got != 0 {
		t.Fatalf("accepted = %d", got)
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Webhook.MaxBodyBytes = 32 })
	if rec := f.post(validUpdate, nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestWebhook_IngressLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Webhook.IngressLimit = 2
		cfg.Webhook.IngressWindow = "1m"
	})
	for i := 0; i < 2; i++ {
		if rec := f.post(validUpdate, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := f.post(validUpdate, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d", rec.Code)
	}
	if ra := rec.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Fatalf("Retry-After = %q", ra)
	}
}

func TestWebhook_IngressLimitPerForwardedIP(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Webhook.IngressLimit = 1
		cfg.Webhook.TrustProxy = true
	})
	a := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}
	b := map[string]string{"X-Real-IP": "203.0.113.8"}
	if rec := f.post(validUpdate, a); rec.Code != http.StatusOK {
		t.Fatalf("a: %d", rec.Code)
	}
	if rec := f.post(validUpdate, b); rec.Code != http.StatusOK {
		t.Fatalf("b: %d", rec.Code)
	}
	if rec := f.post(validUpdate, a); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("a again: %d", rec.Code)
	}
}

func TestWebhook_QueueFull(t *testing.T) {
	cfg := config.Default()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	pool := pipeline.NewPool(pipeline.PoolConfig{Workers: 1, QueueSize: 1}, func(context.Context, pipeline.Job) {
		started <- struct{}{}
		<-release
	}, nil, nil)
	defer func() {
		close(release)
		pool.Close(context.Background())
	}()
	srv := NewServer(cfg, Deps{Pool: pool})

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(validUpdate))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.BuildMux().ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(); code != http.StatusOK {
		t.Fatalf("first: %d", code)
	}
	<-started
	if code := post(); code != http.StatusOK {
		t.Fatalf("queued: %d", code)
	}
	if code := post(); code != http.StatusServiceUnavailable {
		t.Fatalf("saturated: %d", code)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := httptest.NewRecorder()
	f.srv.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d", rec.Code)
	}
}

func get(t *testing.T, srv *Server, path string, into any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.BuildMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if into != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
			t.Fatalf("%s: decode %q: %v", path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestReadOnlyEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.post(validUpdate, nil)

	var health map[string]string
	if code := get(t, f.srv, "/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health: %d %v", code, health)
	}

	var info infoResponse
	get(t, f.srv, "/info", &info)
	if info.Name != "bot-master" || info.Version != "v1.2.3" || len(info.Features) != 1 || info.Features[0].Version != "1.0.0" {
		t.Fatalf("info = %+v", info)
	}

	var status statusResponse
	get(t, f.srv, "/api/status", &status)
	if status.Stats.Accepted != 1 || status.Backends["ratelimit"] != "local" || status.Backends["store"] != "memory" || status.Features != 1 {
		t.Fatalf("status = %+v", status)
	}

	var list struct {
		Features []features.Summary `json:"features"`
	}
	get(t, f.srv, "/api/features", &list)
	if len(list.Features) != 1 || list.Features[0].Command != "help" {
		t.Fatalf("features = %+v", list)
	}
}

func TestHealth_StoreDown(t *testing.T) {
	cfg := config.Default()
	srv := NewServer(cfg, Deps{
		Stores: store.NewStores("postgres", nil, func(context.Context) error { return errors.New("connection refused") }, nil),
	})
	var body map[string]string
	if code := get(t, srv, "/health", &body); code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Gateway.ShutdownTimeout = "1s" })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}
