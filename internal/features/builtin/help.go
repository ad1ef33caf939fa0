package builtin

import (
	"context"

	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

const adminHelp = `<b>Admin Commands</b>

<b>Moderation</b> (reply to a message):
• /ban [reason] - Ban user
• /kick - Remove user from the group
• /mute [minutes] - Mute user (default 60)
• /unmute - Unmute user
• /warn [reason] - Warn user
• /pin - Pin the replied message
• /promote - Make the user an admin (owner only)
• /adminlist - List all admins

<b>Settings:</b>
• /settings - Show group settings
• /settings set|get|reset &lt;key&gt; [on|off]

<b>Member Commands:</b>
• /report [reason] - Report a message
• /help - Show this help`

const memberHelp = `<b>Available Commands:</b>
• /help - Show this message
• /report [reason] - Report a user (reply to their message)

<b>Reporting:</b>
1. Reply to the message
2. Type /report [reason]
Example: <code>/report spam messages</code>

Contact the group admins if you need help.`

func helpFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "help",
		Description: "Show available commands",
		Version:     version,
		Events:      []update.Kind{update.KindMessage},
		Command:     "help",
		Permissions: []string{"member"},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			text, audience := memberHelp, "member"
			if req.Grant.Has("admin") {
				text, audience = adminHelp, "admin"
			}
			if err := d.reply(ctx, req.Event, text); err != nil {
				return nil, err
			}
			return outcome("help_sent", "audience", audience), nil
		},
	}
}
