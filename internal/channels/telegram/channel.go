// Package telegram implements channels.Messenger on the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/config"
)

// Client is the outbound Bot API client. Sends share one token bucket so
// bursts from many workers stay under Telegram's global limit.
type Client struct {
	bot     *telego.Bot
	limiter *rate.Limiter
}

var _ channels.Messenger = (*Client)(nil)

// New creates a client from config. Token must be set.
func New(cfg config.TelegramConfig) (*Client, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}
	if cfg.APIServer != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIServer))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	rps := cfg.SendRPS
	if rps <= 0 {
		rps = 25
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Bot exposes the underlying telego bot for CLI commands.
func (c *Client) Bot() *telego.Bot { return c.bot }

func (c *Client) Send(ctx context.Context, chatID int64, text string, opts channels.SendOptions) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("send throttle: %w", err)
	}

	msg := tu.Message(tu.ID(chatID), text)
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification
	if opts.ReplyTo != 0 {
		msg.ReplyParameters = &telego.ReplyParameters{MessageID: opts.ReplyTo, AllowSendingWithoutReply: true}
	}

	sent, err := c.bot.SendMessage(ctx, msg)
	if err != nil {
		slog.Debug("telegram.send_failed", "chat_id", chatID,
			"text", channels.Preview(text, channels.PreviewWidth), "error", err)
		return 0, fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (c *Client) Restrict(ctx context.Context, chatID, userID int64, perms channels.Permissions, until time.Time) error {
	params := &telego.RestrictChatMemberParams{
		ChatID:      tu.ID(chatID),
		UserID:      userID,
		Permissions: chatPermissions(perms),
	}
	if !until.IsZero() {
		params.UntilDate = until.Unix()
	}
	if err := c.bot.RestrictChatMember(ctx, params); err != nil {
		return fmt.Errorf("restrict %d in %d: %w", userID, chatID, err)
	}
	return nil
}

func (c *Client) Ban(ctx context.Context, chatID, userID int64) error {
	if err := c.bot.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	}); err != nil {
		return fmt.Errorf("ban %d in %d: %w", userID, chatID, err)
	}
	return nil
}

// Unban lifts a ban. OnlyIfBanned keeps it from kicking current members.
func (c *Client) Unban(ctx context.Context, chatID, userID int64) error {
	if err := c.bot.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{
		ChatID:       tu.ID(chatID),
		UserID:       userID,
		OnlyIfBanned: true,
	}); err != nil {
		return fmt.Errorf("unban %d in %d: %w", userID, chatID, err)
	}
	return nil
}

func (c *Client) PinMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := c.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	}); err != nil {
		return fmt.Errorf("pin message %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

func (c *Client) Promote(ctx context.Context, chatID, userID int64, rights channels.AdminRights) error {
	if err := c.bot.PromoteChatMember(ctx, &telego.PromoteChatMemberParams{
		ChatID:             tu.ID(chatID),
		UserID:             userID,
		CanChangeInfo:      boolPtr(rights.CanChangeInfo),
		CanDeleteMessages:  boolPtr(rights.CanDeleteMessages),
		CanInviteUsers:     boolPtr(rights.CanInviteUsers),
		CanRestrictMembers: boolPtr(rights.CanRestrictMembers),
		CanPinMessages:     boolPtr(rights.CanPinMessages),
		CanPromoteMembers:  boolPtr(rights.CanPromoteMembers),
	}); err != nil {
		return fmt.Errorf("promote %d in %d: %w", userID, chatID, err)
	}
	return nil
}

func (c *Client) ChatAdministrators(ctx context.Context, chatID int64) ([]channels.ChatAdmin, error) {
	members, err := c.bot.GetChatAdministrators(ctx, &telego.GetChatAdministratorsParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return nil, fmt.Errorf("get administrators of %d: %w", chatID, err)
	}

	admins := make([]channels.ChatAdmin, 0, len(members))
	for _, m := range members {
		u := m.MemberUser()
		admins = append(admins, channels.ChatAdmin{
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: displayName(u),
			IsOwner:     m.MemberStatus() == string(channels.StatusCreator),
			IsBot:       u.IsBot,
		})
	}
	return admins, nil
}

func (c *Client) ChatMemberStatus(ctx context.Context, chatID, userID int64) (channels.MemberStatus, error) {
	m, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{ChatID: tu.ID(chatID), UserID: userID})
	if err != nil {
		return "", fmt.Errorf("get member %d of %d: %w", userID, chatID, err)
	}
	return channels.MemberStatus(m.MemberStatus()), nil
}

func chatPermissions(p channels.Permissions) telego.ChatPermissions {
	media := boolPtr(p.CanSendMedia)
	return telego.ChatPermissions{
		CanSendMessages:       boolPtr(p.CanSendMessages),
		CanSendAudios:         media,
		CanSendDocuments:      media,
		CanSendPhotos:         media,
		CanSendVideos:         media,
		CanSendVideoNotes:     media,
		CanSendVoiceNotes:     media,
		CanSendPolls:          boolPtr(p.CanSendOther),
		CanSendOtherMessages:  boolPtr(p.CanSendOther),
		CanAddWebPagePreviews: boolPtr(p.CanAddWebPagePreviews),
	}
}

func boolPtr(b bool) *bool { return &b }

func displayName(u telego.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}
