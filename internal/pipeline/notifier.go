package pipeline

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/ratelimit"
)

const (
	notifyTimeout = 5 * time.Second
	// At most notifyLimit owner messages per notifyWindow; the rest are
	// logged only.
	notifyLimit  = 10
	notifyWindow = time.Minute
)

// OwnerNotifier forwards pipeline failures to the platform owner.
type OwnerNotifier struct {
	messenger channels.Messenger
	ownerID   func(ctx context.Context) int64
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

// NewOwnerNotifier creates a notifier. limiter may be nil to disable
// notice throttling.
func NewOwnerNotifier(m channels.Messenger, ownerID func(ctx context.Context) int64, limiter *ratelimit.Limiter, logger *slog.Logger) *OwnerNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnerNotifier{messenger: m, ownerID: ownerID, limiter: limiter, logger: logger}
}

// Run consumes failures until ctx is done or the sink is closed.
func (n *OwnerNotifier) Run(ctx context.Context, failures <-chan Failure) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-failures:
			if !ok {
				return
			}
			n.Notify(ctx, f)
		}
	}
}

// Notify sends one failure to the owner under a bounded timeout.
func (n *OwnerNotifier) Notify(ctx context.Context, f Failure) {
	n.logger.Error("pipeline failure", "job_id", f.JobID, "update_id", f.UpdateID,
		"stage", f.Stage, "feature", f.Feature, "error", f.Err)

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	owner := int64(0)
	if n.ownerID != nil {
		owner = n.ownerID(ctx)
	}
	if owner == 0 || n.messenger == nil {
		return
	}
	if n.limiter != nil {
		if r := n.limiter.Check(ctx, "owner", "failure_notice", notifyLimit, notifyWindow); !r.Allowed {
			n.logger.Debug("owner notice suppressed", "update_id", f.UpdateID, "retry_after", r.RetryAfterSeconds())
			return
		}
	}

	text := fmt.Sprintf("<b>Pipeline failure</b>\n\nUpdate: %d\nStage: %s\n", f.UpdateID, f.Stage)
	if f.Feature != "" {
		text += "Feature: " + html.EscapeString(f.Feature) + "\n"
	}
	text += "Error: <code>" + html.EscapeString(channels.Preview(f.Err, 300)) + "</code>"

	if _, err := n.messenger.Send(ctx, owner, text, channels.SendOptions{ParseMode: channels.ParseModeHTML}); err != nil {
		n.logger.Warn("owner notification failed", "update_id", f.UpdateID, "error", err)
	}
}
