package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/master-pd/bot-master/internal/config"
	"github.com/master-pd/bot-master/internal/ratelimit"
	"github.com/master-pd/bot-master/internal/store"
	"github.com/master-pd/bot-master/internal/store/pg"
	"github.com/master-pd/bot-master/internal/store/sqlite"
)

// openStores opens the chat settings backend selected by database.driver.
func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return pg.NewPGStores(cfg.Database.PostgresDSN)
	case "memory":
		slog.Warn("using in-memory settings store; chat settings are lost on restart")
		return store.NewStores("memory", store.NewMemoryChatConfigStore(), nil, nil), nil
	default:
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if path == "" {
			path = "botmaster.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlite.NewStores(path)
	}
}

// openRedis returns nil when no Redis address is configured.
func openRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// newLimiter builds the limiter over Redis when available. An unreachable
// Redis at startup is not fatal: every check falls back to the local store
// until it recovers.
func newLimiter(ctx context.Context, cfg *config.Config, rdb *redis.Client) *ratelimit.Limiter {
	opts := []ratelimit.Option{ratelimit.WithBackendTimeout(cfg.RateLimit.Timeout())}
	if rdb != nil {
		rs := ratelimit.NewRedisStore(rdb, ratelimit.WithKeyPrefix(cfg.RateLimit.KeyPrefix))
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			slog.Warn("ratelimit.degraded", "backend", ratelimit.BackendRedis, "addr", cfg.Redis.Addr, "error", err)
		} else {
			slog.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
		}
		cancel()
		opts = append(opts, ratelimit.WithShared(rs))
	}
	return ratelimit.New(ratelimit.NewLocalStore(), opts...)
}
