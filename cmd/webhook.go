package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/master-pd/bot-master/internal/channels/telegram"
	"github.com/master-pd/bot-master/internal/config"
)

const webhookCallTimeout = 15 * time.Second

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	cmd.AddCommand(webhookSetCmd())
	cmd.AddCommand(webhookDeleteCmd())
	cmd.AddCommand(webhookInfoCmd())
	return cmd
}

func telegramClient() (*config.Config, *telegram.Client, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return nil, nil, errors.New("BOTMASTER_TELEGRAM_TOKEN environment variable is not set")
	}
	client, err := telegram.New(cfg.Telegram)
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}

// webhookURL joins the public base URL and the configured path unless the
// URL already ends with it.
func webhookURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" || strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

func webhookSetCmd() *cobra.Command {
	var (
		url         string
		dropPending bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register the webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := telegramClient()
			if err != nil {
				return err
			}
			if url == "" {
				url = cfg.Webhook.URL
			}
			if url == "" {
				return errors.New("no webhook URL: pass --url or set webhook.url / BOTMASTER_WEBHOOK_URL")
			}
			if !strings.HasPrefix(url, "https://") {
				return fmt.Errorf("webhook URL must use https, got %q", url)
			}
			target := webhookURL(url, cfg.Webhook.Path)

			ctx, cancel := context.WithTimeout(context.Background(), webhookCallTimeout)
			defer cancel()
			if err := client.SetWebhook(ctx, target, cfg.Webhook.Secret, dropPending); err != nil {
				return err
			}
			fmt.Printf("webhook set: %s (secret: %v)\n", target, cfg.Webhook.Secret != "")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public https base URL (default: webhook.url)")
	cmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop updates queued while no webhook was set")
	return cmd
}

func webhookDeleteCmd() *cobra.Command {
	var dropPending bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := telegramClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), webhookCallTimeout)
			defer cancel()
			if err := client.DeleteWebhook(ctx, dropPending); err != nil {
				return err
			}
			fmt.Println("webhook deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dropPending, "drop-pending", false, "drop queued updates")
	return cmd
}

func webhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := telegramClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), webhookCallTimeout)
			defer cancel()
			info, err := client.WebhookInfo(ctx)
			if err != nil {
				return err
			}

			url := info.URL
			if url == "" {
				url = "(none)"
			}
			fmt.Printf("  %-16s %s\n", "URL:", url)
			fmt.Printf("  %-16s %d\n", "Pending updates:", info.PendingUpdateCount)
			if len(info.AllowedUpdates) > 0 {
				fmt.Printf("  %-16s %s\n", "Allowed:", strings.Join(info.AllowedUpdates, ", "))
			}
			if info.LastErrorMessage != "" {
				at := time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339)
				fmt.Printf("  %-16s %s (%s)\n", "Last error:", info.LastErrorMessage, at)
			}
			return nil
		},
	}
}
