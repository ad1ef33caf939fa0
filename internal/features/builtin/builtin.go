// Package builtin holds the moderation and utility features that ship with
// the bot. Each feature is a plain features.Descriptor; Descriptors returns
// them in registration order.
package builtin

import (
	"context"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/store"
	"github.com/master-pd/bot-master/internal/update"
)

const version = "v1"

// Deps are the collaborators the built-in features share.
type Deps struct {
	Messenger channels.Messenger
	Settings  store.ChatConfigStore
	// OwnerID returns the platform owner's user id, 0 when unknown.
	OwnerID func(ctx context.Context) int64

	// WelcomeTemplate supports {name} and {chat}.
	WelcomeTemplate string
	// AutoReply may be nil, which disables the autoreply feature.
	AutoReply *AutoReplyRules

	BotName string
	Version string
	Started time.Time

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Deps) ownerID(ctx context.Context) int64 {
	if d.OwnerID == nil {
		return 0
	}
	return d.OwnerID(ctx)
}

// Descriptors returns every built-in feature in registration order,
// leaving out the names for which enabled returns false. A nil enabled
// keeps everything.
func Descriptors(d *Deps, enabled func(name string) bool) []features.Descriptor {
	all := []features.Descriptor{
		startupFeature(d),
		adminFeature(d),
		settingsFeature(d),
		welcomeFeature(d),
		reportFeature(d),
		helpFeature(d),
	}
	if d.AutoReply != nil {
		all = append(all, autoReplyFeature(d))
	}

	if enabled == nil {
		return all
	}
	out := all[:0]
	for _, f := range all {
		if enabled(f.Name) {
			out = append(out, f)
		} else {
			d.logger().Info("feature disabled by config", "feature", f.Name)
		}
	}
	return out
}

// Chat setting keys that features honour.
const (
	SettingWelcome   = "welcome"
	SettingAutoReply = "autoreply"
	SettingReports   = "reports"
	SettingAntiSpam  = "antispam"
	SettingNSFW      = "nsfw_filter"
)

// Toggles lists the on/off chat settings with their defaults.
var Toggles = []struct {
	Key     string
	Default bool
}{
	{SettingWelcome, true},
	{SettingAutoReply, true},
	{SettingReports, true},
	{SettingAntiSpam, true},
	{SettingNSFW, false},
}

func toggleDefault(key string) (bool, bool) {
	for _, t := range Toggles {
		if t.Key == key {
			return t.Default, true
		}
	}
	return false, false
}

// Enabled reads an on/off chat setting. Unknown or unreadable values fall
// back to the toggle's default.
func Enabled(ctx context.Context, s store.ChatConfigStore, chatID int64, key string) bool {
	def, _ := toggleDefault(key)
	if s == nil {
		return def
	}
	v, ok, err := s.Get(ctx, chatID, key)
	if err != nil {
		slog.Warn("chat setting read failed", "chat_id", chatID, "key", key, "error", err)
		return def
	}
	if !ok {
		return def
	}
	on, valid := parseToggle(v)
	if !valid {
		return def
	}
	return on
}

func parseToggle(v string) (on, valid bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "enable", "enabled", "yes", "1":
		return true, true
	case "off", "false", "disable", "disabled", "no", "0":
		return false, true
	}
	return false, false
}

// reply answers in the event's chat, threaded to the triggering message.
func (d *Deps) reply(ctx context.Context, ev *update.Event, text string) error {
	if ev.Chat == nil {
		return nil
	}
	_, err := d.Messenger.Send(ctx, ev.Chat.ID, text, channels.SendOptions{
		ReplyTo:   ev.MessageID,
		ParseMode: channels.ParseModeHTML,
	})
	return err
}

func outcome(action string, kv ...string) *features.Outcome {
	o := &features.Outcome{Action: action, Fields: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		o.Fields[kv[i]] = kv[i+1]
	}
	return o
}

func esc(s string) string { return html.EscapeString(s) }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func actorName(ev *update.Event) string {
	if ev.Actor == nil {
		return "someone"
	}
	return ev.Actor.DisplayName
}
