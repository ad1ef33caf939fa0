package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/mymmrac/telego"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

const (
	defaultMuteMinutes = 60
	// Telegram treats restrictions longer than 366 days as permanent.
	maxMuteMinutes = 366 * 24 * 60
)

type adminCommand struct {
	// perm is the grant the actor needs beyond the feature's admin gate.
	perm string
	run  func(d *Deps, ctx context.Context, ev *update.Event, args string) (*features.Outcome, error)
}

// adminCommands maps each moderation command to its handler. Commands
// that act on a user or message take the target from the reply.
var adminCommands = map[string]adminCommand{
	"ban":       {"ban", (*Deps).ban},
	"kick":      {"kick", (*Deps).kick},
	"mute":      {"mute", (*Deps).mute},
	"unmute":    {"unmute", (*Deps).unmute},
	"warn":      {"warn", (*Deps).warn},
	"pin":       {"pin", (*Deps).pin},
	"promote":   {"promote", (*Deps).promote},
	"adminlist": {"admin", (*Deps).adminList},
}

func adminFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "admin",
		Description: "Moderation commands",
		Version:     version,
		Events:      []update.Kind{update.KindMessage},
		Permissions: []string{"admin"},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			if !req.Event.Chat.IsGroup() {
				return nil, nil
			}
			cmd, args := req.Event.Command()
			c, ok := adminCommands[cmd]
			if !ok {
				return nil, nil
			}
			if !req.Grant.Has(c.perm) {
				return nil, d.reply(ctx, req.Event, fmt.Sprintf("You need the %s permission for /%s.", c.perm, cmd))
			}
			return c.run(d, ctx, req.Event, args)
		},
	}
}

// replyTarget returns the author of the message the command replied to.
func replyTarget(ev *update.Event) *telego.User {
	if ev.Update == nil || ev.Update.Message == nil {
		return nil
	}
	r := ev.Update.Message.ReplyToMessage
	if r == nil || r.From == nil {
		return nil
	}
	return r.From
}

// target resolves the reply target and refuses chat administrators.
// A nil user with a nil error means the caller was already answered.
func (d *Deps) target(ctx context.Context, ev *update.Event, verb string) (*telego.User, error) {
	u := replyTarget(ev)
	if u == nil {
		return nil, d.reply(ctx, ev, fmt.Sprintf("Please reply to a message to %s the user.", verb))
	}
	st, err := d.Messenger.ChatMemberStatus(ctx, ev.Chat.ID, u.ID)
	if err == nil && (st == channels.StatusCreator || st == channels.StatusAdministrator) {
		return nil, d.reply(ctx, ev, fmt.Sprintf("I can't %s an administrator.", verb))
	}
	return u, nil
}

func userName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func reasonOr(args, def string) string {
	if r := strings.TrimSpace(args); r != "" {
		return r
	}
	return def
}

func (d *Deps) ban(ctx context.Context, ev *update.Event, args string) (*features.Outcome, error) {
	u, err := d.target(ctx, ev, "ban")
	if u == nil {
		return nil, err
	}
	if err := d.Messenger.Ban(ctx, ev.Chat.ID, u.ID); err != nil {
		_ = d.reply(ctx, ev, "Failed to ban user. I might not have admin permissions.")
		return nil, err
	}
	reason := reasonOr(args, "No reason provided")
	if err := d.reply(ctx, ev, fmt.Sprintf("User <b>%s</b> has been banned.\nReason: %s\nAdmin: %s",
		esc(userName(u)), esc(reason), esc(actorName(ev)))); err != nil {
		return nil, err
	}
	return outcome("banned", "user_id", itoa(u.ID), "reason", reason), nil
}

// kick bans then immediately unbans, removing the user without a lasting ban.
func (d *Deps) kick(ctx context.Context, ev *update.Event, _ string) (*features.Outcome, error) {
	u, err := d.target(ctx, ev, "kick")
	if u == nil {
		return nil, err
	}
	if err := d.Messenger.Ban(ctx, ev.Chat.ID, u.ID); err != nil {
		_ = d.reply(ctx, ev, "Failed to kick user.")
		return nil, err
	}
	if err := d.Messenger.Unban(ctx, ev.Chat.ID, u.ID); err != nil {
		return nil, fmt.Errorf("kick: lift ban: %w", err)
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("User <b>%s</b> has been kicked.\nAdmin: %s",
		esc(userName(u)), esc(actorName(ev)))); err != nil {
		return nil, err
	}
	return outcome("kicked", "user_id", itoa(u.ID)), nil
}

func parseMinutes(args string) int {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return defaultMuteMinutes
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return defaultMuteMinutes
	}
	if n > maxMuteMinutes {
		return maxMuteMinutes
	}
	return n
}

func (d *Deps) mute(ctx context.Context, ev *update.Event, args string) (*features.Outcome, error) {
	u, err := d.target(ctx, ev, "mute")
	if u == nil {
		return nil, err
	}
	minutes := parseMinutes(args)
	until := d.now().Add(time.Duration(minutes) * time.Minute)
	if err := d.Messenger.Restrict(ctx, ev.Chat.ID, u.ID, channels.Muted, until); err != nil {
		_ = d.reply(ctx, ev, "Failed to mute user.")
		return nil, err
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("User <b>%s</b> has been muted for %d minutes.\nAdmin: %s",
		esc(userName(u)), minutes, esc(actorName(ev)))); err != nil {
		return nil, err
	}
	return outcome("muted", "user_id", itoa(u.ID), "minutes", strconv.Itoa(minutes)), nil
}

func (d *Deps) unmute(ctx context.Context, ev *update.Event, _ string) (*features.Outcome, error) {
	u, err := d.target(ctx, ev, "unmute")
	if u == nil {
		return nil, err
	}
	if err := d.Messenger.Restrict(ctx, ev.Chat.ID, u.ID, channels.Unmuted, time.Time{}); err != nil {
		_ = d.reply(ctx, ev, "Failed to unmute user.")
		return nil, err
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("User <b>%s</b> can speak again.", esc(userName(u)))); err != nil {
		return nil, err
	}
	return outcome("unmuted", "user_id", itoa(u.ID)), nil
}

func (d *Deps) pin(ctx context.Context, ev *update.Event, _ string) (*features.Outcome, error) {
	if ev.Update == nil || ev.Update.Message == nil || ev.Update.Message.ReplyToMessage == nil {
		return nil, d.reply(ctx, ev, "Please reply to a message to pin it.")
	}
	msgID := ev.Update.Message.ReplyToMessage.MessageID
	if err := d.Messenger.PinMessage(ctx, ev.Chat.ID, msgID); err != nil {
		_ = d.reply(ctx, ev, "Failed to pin message.")
		return nil, err
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("Message pinned by <b>%s</b>", esc(actorName(ev)))); err != nil {
		return nil, err
	}
	return outcome("pinned", "message_id", strconv.Itoa(msgID)), nil
}

func (d *Deps) promote(ctx context.Context, ev *update.Event, _ string) (*features.Outcome, error) {
	u := replyTarget(ev)
	if u == nil {
		return nil, d.reply(ctx, ev, "Please reply to a message to promote the user.")
	}
	if u.IsBot {
		return nil, d.reply(ctx, ev, "I won't promote bots.")
	}
	if err := d.Messenger.Promote(ctx, ev.Chat.ID, u.ID, channels.ModeratorRights); err != nil {
		_ = d.reply(ctx, ev, "Failed to promote user. I might not have permission.")
		return nil, err
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("User <b>%s</b> has been promoted to admin!", esc(userName(u)))); err != nil {
		return nil, err
	}
	return outcome("promoted", "user_id", itoa(u.ID)), nil
}

// warningKey is the chat setting holding a user's warning count.
func warningKey(userID int64) string { return "warnings:" + itoa(userID) }

func (d *Deps) warn(ctx context.Context, ev *update.Event, args string) (*features.Outcome, error) {
	u, err := d.target(ctx, ev, "warn")
	if u == nil {
		return nil, err
	}
	reason := reasonOr(args, "Violation of rules")

	count := 1
	if d.Settings != nil {
		key := warningKey(u.ID)
		if v, ok, err := d.Settings.Get(ctx, ev.Chat.ID, key); err == nil && ok {
			if n, convErr := strconv.Atoi(v); convErr == nil {
				count = n + 1
			}
		}
		if err := d.Settings.Set(ctx, ev.Chat.ID, key, strconv.Itoa(count)); err != nil {
			d.logger().Warn("warn: persist count failed", "chat_id", ev.Chat.ID, "user_id", u.ID, "error", err)
		}
	}

	title := ev.Chat.Title
	if title == "" {
		title = "Group"
	}
	// Users who never opened a private chat with the bot can't be messaged.
	if _, err := d.Messenger.Send(ctx, u.ID, fmt.Sprintf(
		"<b>You have been warned</b>\nChat: %s\nReason: %s\nAdmin: %s",
		esc(title), esc(reason), esc(actorName(ev))),
		channels.SendOptions{ParseMode: channels.ParseModeHTML}); err != nil {
		d.logger().Debug("warn: private notice not delivered", "user_id", u.ID, "error", err)
	}

	if err := d.reply(ctx, ev, fmt.Sprintf("User <b>%s</b> has been warned (%d).\nReason: %s\nAdmin: %s",
		esc(userName(u)), count, esc(reason), esc(actorName(ev)))); err != nil {
		return nil, err
	}
	return outcome("warned", "user_id", itoa(u.ID), "count", strconv.Itoa(count), "reason", reason), nil
}

func (d *Deps) adminList(ctx context.Context, ev *update.Event, _ string) (*features.Outcome, error) {
	admins, err := d.Messenger.ChatAdministrators(ctx, ev.Chat.ID)
	if err != nil {
		_ = d.reply(ctx, ev, "Failed to get admin list.")
		return nil, err
	}

	width := 0
	for _, a := range admins {
		if w := runewidth.StringWidth(a.DisplayName); w > width {
			width = w
		}
	}

	var b strings.Builder
	b.WriteString("<b>Group Administrators:</b>\n\n")
	for i, a := range admins {
		role := "Admin"
		if a.IsOwner {
			role = "Owner"
		}
		username := a.Username
		if username == "" {
			username = "NoUsername"
		}
		fmt.Fprintf(&b, "%d. %s (@%s) - %s\n", i+1,
			esc(channels.PadRight(a.DisplayName, width)), esc(username), role)
	}
	if err := d.reply(ctx, ev, b.String()); err != nil {
		return nil, err
	}
	return outcome("admin_list", "count", strconv.Itoa(len(admins))), nil
}
