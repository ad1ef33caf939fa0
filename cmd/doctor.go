package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/master-pd/bot-master/internal/channels/telegram"
	"github.com/master-pd/bot-master/internal/config"
	"github.com/master-pd/bot-master/internal/store/pg"
	"github.com/master-pd/bot-master/internal/upgrade"
)

const doctorTimeout = 10 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

type checkResult struct {
	name   string
	status string
}

func runDoctor() {
	fmt.Println("botmaster doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  Hash:     %s\n", cfg.Hash())
	fmt.Println()

	var (
		mu      sync.Mutex
		results = map[string]string{}
	)
	record := func(name, status string) {
		mu.Lock()
		results[name] = status
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	// Checks report instead of failing so one broken backend does not
	// cancel the others.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cfg.Database.Driver == "postgres" {
			record("Database", postgresStatus(gctx, cfg.Database.PostgresDSN))
			return nil
		}
		stores, err := openStores(cfg)
		if err != nil {
			record("Database", "FAILED ("+err.Error()+")")
			return nil
		}
		defer stores.Close()
		if err := stores.Ping(gctx); err != nil {
			record("Database", fmt.Sprintf("%s PING FAILED (%s)", stores.Backend, err))
			return nil
		}
		record("Database", stores.Backend+" OK")
		return nil
	})

	g.Go(func() error {
		rdb := openRedis(cfg)
		if rdb == nil {
			record("Redis", "not configured (local rate limiting)")
			return nil
		}
		defer rdb.Close()
		if err := rdb.Ping(gctx).Err(); err != nil {
			record("Redis", fmt.Sprintf("%s UNREACHABLE (%s)", cfg.Redis.Addr, err))
			return nil
		}
		record("Redis", cfg.Redis.Addr+" OK")
		return nil
	})

	g.Go(func() error {
		if cfg.Telegram.Token == "" {
			record("Telegram", "BOTMASTER_TELEGRAM_TOKEN not set")
			return nil
		}
		client, err := telegram.New(cfg.Telegram)
		if err != nil {
			record("Telegram", "INVALID ("+err.Error()+")")
			return nil
		}
		me, err := client.Me(gctx)
		if err != nil {
			record("Telegram", "getMe FAILED ("+err.Error()+")")
			return nil
		}
		record("Telegram", fmt.Sprintf("@%s (id %d) OK", me.Username, me.ID))

		info, err := client.WebhookInfo(gctx)
		switch {
		case err != nil:
			record("Webhook", "getWebhookInfo FAILED ("+err.Error()+")")
		case info.URL == "":
			record("Webhook", "not registered (run: botmaster webhook set)")
		case info.LastErrorMessage != "":
			record("Webhook", fmt.Sprintf("%s (last error: %s)", info.URL, info.LastErrorMessage))
		default:
			record("Webhook", info.URL+" OK")
		}
		return nil
	})

	_ = g.Wait()

	fmt.Println("  Checks:")
	for _, name := range []string{"Database", "Redis", "Telegram", "Webhook"} {
		if status, ok := results[name]; ok {
			fmt.Printf("    %-10s %s\n", name+":", status)
		}
	}

	fmt.Println()
	fmt.Println("  Security:")
	if cfg.Webhook.Secret == "" {
		fmt.Printf("    %-10s NOT SET (webhook accepts unauthenticated requests)\n", "Secret:")
	} else {
		fmt.Printf("    %-10s set\n", "Secret:")
	}
	if cfg.Permissions.PlatformOwnerID == 0 {
		fmt.Printf("    %-10s not configured (BOTMASTER_OWNER_ID)\n", "Owner:")
	} else {
		fmt.Printf("    %-10s %d\n", "Owner:", cfg.Permissions.PlatformOwnerID)
	}
}

func postgresStatus(ctx context.Context, dsn string) string {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return "postgres CONNECT FAILED (" + err.Error() + ")"
	}
	defer db.Close()

	s := upgrade.CheckSchema(ctx, db)
	switch {
	case s.Compatible:
		return fmt.Sprintf("postgres schema v%d OK", s.CurrentVersion)
	case s.Dirty:
		return fmt.Sprintf("postgres schema v%d DIRTY (run: botmaster migrate force %d)", s.CurrentVersion, s.CurrentVersion-1)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf("postgres schema v%d (binary too old, requires v%d)", s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf("postgres schema v%d, requires v%d (run: botmaster migrate up)", s.CurrentVersion, s.RequiredVersion)
	}
}
