package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mymmrac/telego"

	"github.com/master-pd/bot-master/internal/features"
)

// maxMenuCommands is the Bot API cap for setMyCommands.
const maxMenuCommands = 100

// SyncMenuCommands replaces the bot's command menu.
func (c *Client) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}

	if len(commands) == 0 {
		return nil
	}

	if len(commands) > maxMenuCommands {
		commands = commands[:maxMenuCommands]
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// MenuCommands derives the menu from registered feature commands.
// Features without a command are omitted; duplicate commands keep the
// first registration.
func MenuCommands(reg *features.Registry) []telego.BotCommand {
	seen := make(map[string]bool)
	var out []telego.BotCommand
	for _, f := range reg.Features() {
		if f.Command == "" || seen[f.Command] {
			continue
		}
		seen[f.Command] = true
		desc := f.Description
		if desc == "" {
			desc = f.Name
		}
		out = append(out, telego.BotCommand{Command: f.Command, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Webhook management, used by `botmaster webhook`.

// AllowedUpdates lists the update kinds the pipeline accepts.
var AllowedUpdates = []string{
	"message",
	"edited_message",
	"callback_query",
	"inline_query",
	"chat_member",
	"my_chat_member",
	"chat_join_request",
}

// SetWebhook registers url with Telegram. secret is echoed back by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string, dropPending bool) error {
	if err := c.bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:                url,
		SecretToken:        secret,
		AllowedUpdates:     AllowedUpdates,
		DropPendingUpdates: dropPending,
	}); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	if err := c.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{DropPendingUpdates: dropPending}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (c *Client) WebhookInfo(ctx context.Context) (*telego.WebhookInfo, error) {
	info, err := c.bot.GetWebhookInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get webhook info: %w", err)
	}
	return info, nil
}

// Me returns the bot's own account; doctor uses it as a token check.
func (c *Client) Me(ctx context.Context) (*telego.User, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return me, nil
}
