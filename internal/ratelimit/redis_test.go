package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisStore(rdb)
}

func TestRedisStore_SlidingWindow(t *testing.T) {
	_, store := newTestRedis(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	key := Key("u1", "msg")

	for i := 0; i < 3; i++ {
		res, err := store.Hit(ctx, key, 3, 10*time.Second, t0.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("hit %d: %v", i+1, err)
		}
		if !res.Allowed || res.Remaining != 2-i || res.Backend != BackendRedis {
			t.Fatalf("hit %d: got %+v", i+1, res)
		}
	}

	res, err := store.Hit(ctx, key, 3, 10*time.Second, t0.Add(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("4th hit should be denied")
	}
	if res.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %v, want 7s", res.RetryAfter)
	}

	res, err = store.Hit(ctx, key, 3, 10*time.Second, t0.Add(10*time.Second+time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatal("hit after oldest expired should be allowed")
	}
}

func TestRedisStore_SameInstantHitsAreDistinct(t *testing.T) {
	mr, store := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	key := Key("u1", "burst")

	for i := 0; i < 3; i++ {
		if _, err := store.Hit(ctx, key, 5, time.Minute, now); err != nil {
			t.Fatal(err)
		}
	}
	members, err := mr.ZMembers(key)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3 (same-instant hits collapsed)", len(members))
	}
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	mr, store := newTestRedis(t)
	key := Key("u1", "ttl")

	if _, err := store.Hit(context.Background(), key, 5, 30*time.Second, time.Now()); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("ttl = %v, want (0, 30s]", ttl)
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisStore(rdb, WithKeyPrefix("prod:"))

	if _, err := store.Hit(context.Background(), "ratelimit:a:b", 1, time.Minute, time.Now()); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("prod:ratelimit:a:b") {
		t.Fatal("prefixed key not written")
	}
}

func TestLimiter_UsesRedisThenDegrades(t *testing.T) {
	mr, store := newTestRedis(t)
	l := New(nil, WithShared(store))
	ctx := context.Background()

	res := l.Check(ctx, "u1", "msg", 5, time.Minute)
	if !res.Allowed || res.Backend != BackendRedis {
		t.Fatalf("expected redis allow, got %+v", res)
	}

	mr.Close()

	res = l.Check(ctx, "u1", "msg", 5, time.Minute)
	if !res.Allowed || res.Backend != BackendLocal {
		t.Fatalf("expected local fallback after redis loss, got %+v", res)
	}
}

func TestLimiter_FallbackKeepsRedisAdmittedHits(t *testing.T) {
	mr, store := newTestRedis(t)
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	l := New(nil, WithShared(store), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		now = t0.Add(time.Duration(i) * time.Second)
		if res := l.Check(ctx, "u1", "msg", 3, time.Minute); !res.Allowed || res.Backend != BackendRedis {
			t.Fatalf("check %d: %+v", i+1, res)
		}
	}

	mr.Close()

	allowed := 3
	for i := 3; i < 6; i++ {
		now = t0.Add(time.Duration(i) * time.Second)
		res := l.Check(ctx, "u1", "msg", 3, time.Minute)
		if res.Backend != BackendLocal {
			t.Fatalf("check %d: backend %s", i+1, res.Backend)
		}
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed %d checks in one window across fallback, limit 3", allowed)
	}

	// The local window expires on the same schedule as the shared one.
	now = t0.Add(time.Minute + time.Millisecond)
	if res := l.Check(ctx, "u1", "msg", 3, time.Minute); !res.Allowed {
		t.Fatalf("after window: %+v", res)
	}
}

func TestLimiter_DeniedRedisHitsAreNotMirrored(t *testing.T) {
	_, store := newTestRedis(t)
	l := New(nil, WithShared(store))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		l.Check(ctx, "u1", "msg", 2, time.Minute)
	}
	res, _ := l.Local().Hit(ctx, Key("u1", "msg"), 3, time.Minute, time.Now())
	if !res.Allowed || res.Remaining != 0 {
		t.Fatalf("local window should hold exactly the 2 admitted hits, got %+v", res)
	}
}
