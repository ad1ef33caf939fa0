package builtin

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

// DefaultWelcomeTemplate is used when no template is configured.
const DefaultWelcomeTemplate = "Welcome <b>{name}</b> to <b>{chat}</b>!\nWe're happy to have you here!"

func welcomeFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "welcome",
		Description: "Greet members who join",
		Version:     version,
		Events:      []update.Kind{update.KindChatMember},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			ev := req.Event
			if ev.Update == nil || ev.Update.ChatMember == nil || ev.Chat == nil {
				return nil, nil
			}
			change := ev.Update.ChatMember
			if change.NewChatMember == nil || !joined(statusOf(change.OldChatMember), statusOf(change.NewChatMember)) {
				return nil, nil
			}
			user := change.NewChatMember.MemberUser()
			if user.IsBot {
				return nil, nil
			}
			if !Enabled(ctx, d.Settings, ev.Chat.ID, SettingWelcome) {
				return nil, nil
			}

			text := renderWelcome(d.WelcomeTemplate, userName(&user), ev.Chat.Title)
			if _, err := d.Messenger.Send(ctx, ev.Chat.ID, text,
				channels.SendOptions{ParseMode: channels.ParseModeHTML}); err != nil {
				return nil, err
			}
			return outcome("welcome_sent", "user_id", itoa(user.ID)), nil
		},
	}
}

func statusOf(m telego.ChatMember) channels.MemberStatus {
	if m == nil {
		return ""
	}
	return channels.MemberStatus(m.MemberStatus())
}

// joined reports a transition from outside the chat to inside it.
func joined(old, cur channels.MemberStatus) bool {
	outside := old == "" || old == channels.StatusLeft || old == channels.StatusKicked
	inside := cur == channels.StatusMember || cur == channels.StatusRestricted
	return outside && inside
}

func renderWelcome(tmpl, name, chat string) string {
	if tmpl == "" {
		tmpl = DefaultWelcomeTemplate
	}
	if chat == "" {
		chat = "the group"
	}
	return strings.NewReplacer("{name}", esc(name), "{chat}", esc(chat)).Replace(tmpl)
}
