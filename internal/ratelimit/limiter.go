// Package ratelimit implements exact sliding-window rate limiting keyed by
// subject and action. A shared Redis store is preferred when configured;
// a process-local store takes over whenever the shared one is missing,
// failing or too slow.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	BackendRedis = "redis"
	BackendLocal = "local"
	BackendNone  = "none"

	// DefaultBackendTimeout bounds a single shared-store call.
	DefaultBackendTimeout = 250 * time.Millisecond
)

// ErrBackendUnavailable wraps any shared-store failure (error or timeout).
var ErrBackendUnavailable = errors.New("ratelimit: shared backend unavailable")

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	Backend    string
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds. A denied result
// never reports less than 1.
func (r Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store records a hit in the window for key, unless the window is full.
// Implementations must perform the purge/count/record sequence atomically
// per key.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// Key builds the storage key for a subject/action pair.
func Key(subject, action string) string {
	return "ratelimit:" + subject + ":" + action
}

// Limiter checks sliding windows against the shared store with local fallback.
// Safe for concurrent use.
type Limiter struct {
	shared  Store
	local   *LocalStore
	timeout time.Duration
	now     func() time.Time
	tracer  trace.Tracer
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithShared sets the shared backend. A nil store means local-only.
func WithShared(s Store) Option {
	return func(l *Limiter) { l.shared = s }
}

// WithBackendTimeout bounds each shared-store call.
func WithBackendTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. local may be nil, in which case a fresh LocalStore
// is used; pass one explicitly to run its janitor.
func New(local *LocalStore, opts ...Option) *Limiter {
	if local == nil {
		local = NewLocalStore()
	}
	l := &Limiter{
		local:   local,
		timeout: DefaultBackendTimeout,
		now:     time.Now,
		tracer:  otel.Tracer("github.com/master-pd/bot-master/internal/ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Local returns the fallback store.
func (l *Limiter) Local() *LocalStore { return l.local }

// Shared reports whether a shared backend is configured.
func (l *Limiter) Shared() bool { return l.shared != nil }

// Check performs one sliding-window check for subject/action. It never
// fails: shared-store problems degrade to the local store.
//
// limit <= 0 denies without recording anything. window <= 0 always allows.
func (l *Limiter) Check(ctx context.Context, subject, action string, limit int, window time.Duration) Result {
	key := Key(subject, action)

	if limit <= 0 {
		return Result{Allowed: false, RetryAfter: window, Backend: BackendNone}
	}
	if window <= 0 {
		return Result{Allowed: true, Remaining: limit, Backend: BackendNone}
	}

	ctx, span := l.tracer.Start(ctx, "ratelimit.check", trace.WithAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
		attribute.Int64("ratelimit.window_ms", window.Milliseconds()),
	))
	defer span.End()

	now := l.now()
	res, err := l.hitShared(ctx, key, limit, window, now)
	if err != nil {
		if l.shared != nil {
			slog.Warn("ratelimit.degraded", "key", key, "subject", subject, "action", action, "error", err)
			span.SetAttributes(attribute.Bool("ratelimit.degraded", true))
		}
		// LocalStore.Hit cannot fail.
		res, _ = l.local.Hit(ctx, key, limit, window, now)
	} else if res.Allowed {
		// Mirror admitted hits so a later fallback starts from the same
		// count instead of an empty window.
		l.local.Record(key, window, now)
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", res.Allowed),
		attribute.String("ratelimit.backend", res.Backend),
	)
	return res
}

func (l *Limiter) hitShared(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if l.shared == nil {
		return Result{}, ErrBackendUnavailable
	}
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := l.shared.Hit(cctx, key, limit, window, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return res, nil
}
