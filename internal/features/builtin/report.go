package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

// reportFanout bounds concurrent admin notifications per report.
const reportFanout = 4

func reportFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "report",
		Description: "Report a message to the group admins",
		Version:     version,
		Events:      []update.Kind{update.KindMessage},
		Command:     "report",
		Permissions: []string{"member"},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			ev := req.Event
			if !ev.Chat.IsGroup() {
				return nil, nil
			}
			if !Enabled(ctx, d.Settings, ev.Chat.ID, SettingReports) {
				return nil, d.reply(ctx, ev, "Reports are disabled in this group.")
			}
			target := replyTarget(ev)
			if target == nil {
				return nil, d.reply(ctx, ev, "<b>How to report:</b>\n\n"+
					"Reply to the offending message with /report [reason]\n\n"+
					"Example: <code>/report spam</code>")
			}
			return d.submitReport(ctx, ev, target.ID, userName(target), target.Username, req.Args)
		},
	}
}

func newReportID() string {
	return "RPT-" + strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func (d *Deps) submitReport(ctx context.Context, ev *update.Event, targetID int64, targetName, targetUsername, args string) (*features.Outcome, error) {
	reason := reasonOr(args, "No reason provided")
	reportID := newReportID()

	excerpt := "[Media message]"
	if m := ev.Update.Message.ReplyToMessage; m != nil && m.Text != "" {
		excerpt = channels.Preview(m.Text, 200)
	}
	if targetUsername == "" {
		targetUsername = "N/A"
	}
	alert := fmt.Sprintf("<b>New Report Alert</b> %s\n\n"+
		"Chat: <b>%s</b>\nReported user: <b>%s</b> (@%s)\nReporter: <b>%s</b>\nReason: %s\n\n"+
		"Message: %s\n\nPlease review and take appropriate action.",
		reportID, esc(ev.Chat.Title), esc(targetName), esc(targetUsername),
		esc(actorName(ev)), esc(reason), esc(excerpt))

	notified := d.notifyAdmins(ctx, ev.Chat.ID, alert)

	if owner := d.ownerID(ctx); owner != 0 {
		if _, err := d.Messenger.Send(ctx, owner, alert, channels.SendOptions{ParseMode: channels.ParseModeHTML}); err != nil {
			d.logger().Debug("report: owner notice not delivered", "report_id", reportID, "error", err)
		}
	}

	if err := d.reply(ctx, ev, fmt.Sprintf("<b>Report submitted!</b>\n\nReported user: <b>%s</b>\nReason: %s\n\nThe admins have been notified.",
		esc(targetName), esc(reason))); err != nil {
		return nil, err
	}
	return outcome("report_submitted",
		"report_id", reportID,
		"target_id", itoa(targetID),
		"notified", strconv.Itoa(notified),
	), nil
}

// notifyAdmins sends alert to every human admin of the chat and returns how
// many were reached. Admins who never started the bot can't be messaged, so
// individual failures are only logged.
func (d *Deps) notifyAdmins(ctx context.Context, chatID int64, alert string) int {
	admins, err := d.Messenger.ChatAdministrators(ctx, chatID)
	if err != nil {
		d.logger().Warn("report: list admins failed", "chat_id", chatID, "error", err)
		return 0
	}

	var delivered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportFanout)
	for _, a := range admins {
		if a.IsBot {
			continue
		}
		g.Go(func() error {
			if _, err := d.Messenger.Send(gctx, a.UserID, alert, channels.SendOptions{ParseMode: channels.ParseModeHTML}); err != nil {
				d.logger().Debug("report: admin notice not delivered", "admin_id", a.UserID, "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}
