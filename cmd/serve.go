package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/master-pd/bot-master/internal/channels/telegram"
	"github.com/master-pd/bot-master/internal/config"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/features/builtin"
	"github.com/master-pd/bot-master/internal/gateway"
	"github.com/master-pd/bot-master/internal/permissions"
	"github.com/master-pd/bot-master/internal/pipeline"
	"github.com/master-pd/bot-master/internal/spam"
	"github.com/master-pd/bot-master/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("BOTMASTER_TELEGRAM_TOKEN environment variable is not set")
	}
	if cfg.Webhook.Secret == "" {
		slog.Warn("security.webhook_secret_unset", "hint", "set BOTMASTER_WEBHOOK_SECRET to authenticate Telegram")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer stores.Close()
	slog.Info("settings store ready", "backend", stores.Backend)

	rdb := openRedis(cfg)
	if rdb != nil {
		defer rdb.Close()
	}
	limiter := newLimiter(ctx, cfg, rdb)
	go func() {
		if err := limiter.Local().Run(ctx, cfg.RateLimit.JanitorSchedule); err != nil {
			slog.Error("ratelimit janitor stopped", "error", err)
		}
	}()

	var detector *spam.Detector
	if cfg.Spam.Enabled {
		detector, err = spam.New(limiter, spam.Config{
			BurstLimit:  cfg.Spam.BurstLimit,
			BurstWindow: cfg.Spam.Window(),
			ExtraTerms:  cfg.Spam.ExtraTerms,
		})
		if err != nil {
			return fmt.Errorf("spam detector: %w", err)
		}
	}

	client, err := telegram.New(cfg.Telegram)
	if err != nil {
		return err
	}

	resolver := permissions.NewResolver(client, stores.ChatConfig, permissions.Config{
		PlatformOwnerID: int64(cfg.Permissions.PlatformOwnerID),
		LookupTimeout:   cfg.Permissions.Timeout(),
	})
	if resolver.PlatformOwnerID(ctx) == 0 {
		slog.Warn("no platform owner configured; owner commands and failure notices are disabled")
	}

	var rules *builtin.AutoReplyRules
	if path := cfg.Features.AutoReplyRules; path != "" && cfg.FeatureEnabled("autoreply") {
		rules, err = builtin.LoadAutoReplyRules(config.ExpandHome(path))
		if err != nil {
			slog.Warn("autoreply rules not loaded", "path", path, "error", err)
			rules = nil
		} else {
			go func() {
				if err := rules.Watch(ctx); err != nil {
					slog.Warn("autoreply watcher stopped", "error", err)
				}
			}()
		}
	}

	descs := builtin.Descriptors(&builtin.Deps{
		Messenger:       client,
		Settings:        stores.ChatConfig,
		OwnerID:         resolver.PlatformOwnerID,
		WelcomeTemplate: cfg.Features.WelcomeMessage,
		AutoReply:       rules,
		BotName:         cfg.Gateway.BotName,
		Version:         Version,
		Started:         time.Now(),
		Logger:          slog.Default(),
	}, cfg.FeatureEnabled)

	registry, err := features.NewBuilder().Add(descs...).Build()
	if err != nil {
		return fmt.Errorf("feature registry: %w", err)
	}
	slog.Info("features registered", "count", registry.Len())

	dispatcher := features.NewDispatcher(registry, slog.Default(),
		features.WithHandlerTimeout(cfg.Pipeline.HandlerBudget()))

	stats := &pipeline.Stats{}
	var sink pipeline.ErrorSink
	if cfg.Pipeline.NotifyOwnerOnError {
		sink = pipeline.NewErrorSink(0)
	}
	proc := pipeline.NewProcessor(pipeline.Deps{
		Limiter:    limiter,
		Spam:       detector,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Messenger:  client,
		Settings:   stores.ChatConfig,
		Sink:       sink,
		Stats:      stats,
		Logger:     slog.Default(),
	}, pipeline.Config{
		UserLimit:             cfg.RateLimit.UserLimit,
		UserWindow:            cfg.RateLimit.Window(),
		NotifyPrivateThrottle: cfg.Pipeline.NotifyPrivateThrottle,
		NotifyOwnerOnError:    cfg.Pipeline.NotifyOwnerOnError,
	})

	pool := pipeline.NewPool(pipeline.PoolConfig{
		Workers:    cfg.Pipeline.Workers,
		QueueSize:  cfg.Pipeline.QueueSize,
		JobTimeout: cfg.Pipeline.JobBudget(),
	}, func(ctx context.Context, job pipeline.Job) {
		proc.Process(ctx, job.Event)
	}, sink, stats)

	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()
	if sink != nil {
		go pipeline.NewOwnerNotifier(client, resolver.PlatformOwnerID, limiter, slog.Default()).Run(notifierCtx, sink)
	}

	syncCtx, cancelSync := context.WithTimeout(ctx, 10*time.Second)
	if err := client.SyncMenuCommands(syncCtx, telegram.MenuCommands(registry)); err != nil {
		slog.Warn("telegram menu sync failed", "error", err)
	}
	cancelSync()

	server := gateway.NewServer(cfg, gateway.Deps{
		Pool:     pool,
		Limiter:  limiter,
		Registry: registry,
		Stats:    stats,
		Stores:   stores,
		Version:  Version,
	})
	serveErr := server.Start(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.Shutdown())
	defer cancel()
	if err := pool.Close(drainCtx); err != nil {
		slog.Warn("pipeline drain incomplete", "pending", pool.Pending(), "error", err)
	}
	slog.Info("shutdown complete", "stats", stats.Snapshot())
	return serveErr
}
