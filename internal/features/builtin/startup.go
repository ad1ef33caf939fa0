package builtin

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/permissions"
	"github.com/master-pd/bot-master/internal/update"
)

// startup serves the platform owner's /system command and reports the
// bot's own membership changes to the owner.
func startupFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "startup",
		Description: "System status and bot membership notices",
		Version:     version,
		Events:      []update.Kind{update.KindMessage, update.KindMyChatMember},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			switch req.Event.Kind {
			case update.KindMyChatMember:
				return d.botMembershipChanged(ctx, req.Event)
			case update.KindMessage:
				cmd, args := req.Event.Command()
				if cmd != "system" || !req.Grant.AtLeast(permissions.PlatformOwner) {
					return nil, nil
				}
				return d.systemCommand(ctx, req.Event, args)
			}
			return nil, nil
		},
	}
}

func (d *Deps) systemCommand(ctx context.Context, ev *update.Event, args string) (*features.Outcome, error) {
	action := strings.ToLower(strings.TrimSpace(strings.SplitN(args, " ", 2)[0]))

	var text string
	switch action {
	case "status":
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		text = fmt.Sprintf("<b>System Status</b>\n\n"+
			"Memory:\n  • Heap: %.2f MB\n  • Sys: %.2f MB\n"+
			"Goroutines: %d\nUptime: %s\nVersion: %s",
			float64(mem.HeapAlloc)/1024/1024, float64(mem.Sys)/1024/1024,
			runtime.NumGoroutine(), formatUptime(d.now().Sub(d.Started)), esc(d.Version))
	default:
		action = "help"
		text = "<b>System Commands:</b>\n\n" +
			"• /system status - Show system status\n\n" +
			"Platform owner only"
	}

	if err := d.reply(ctx, ev, text); err != nil {
		return nil, err
	}
	return outcome("system_" + action), nil
}

var membershipNotices = map[channels.MemberStatus]string{
	channels.StatusMember:        "Added to group: <b>%s</b>",
	channels.StatusAdministrator: "Promoted to admin in: <b>%s</b>",
	channels.StatusLeft:          "Left group: <b>%s</b>",
	channels.StatusKicked:        "Removed from group: <b>%s</b>",
}

func (d *Deps) botMembershipChanged(ctx context.Context, ev *update.Event) (*features.Outcome, error) {
	if ev.Update == nil || ev.Update.MyChatMember == nil {
		return nil, nil
	}
	change := ev.Update.MyChatMember
	status := statusOf(change.NewChatMember)

	format, ok := membershipNotices[status]
	if !ok {
		return nil, nil
	}
	owner := d.ownerID(ctx)
	if owner == 0 {
		return nil, nil
	}

	title := change.Chat.Title
	if title == "" {
		title = itoa(change.Chat.ID)
	}
	if _, err := d.Messenger.Send(ctx, owner, fmt.Sprintf(format, esc(title)),
		channels.SendOptions{ParseMode: channels.ParseModeHTML}); err != nil {
		return nil, fmt.Errorf("notify owner: %w", err)
	}
	return outcome("owner_notified", "status", string(status), "chat_id", itoa(change.Chat.ID)), nil
}

func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	mins := secs / 60
	secs %= 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}
