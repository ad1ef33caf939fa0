// Package pipeline runs accepted updates through rate limiting, spam
// filtering, permission resolution and feature dispatch on a bounded
// worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/features/builtin"
	"github.com/master-pd/bot-master/internal/permissions"
	"github.com/master-pd/bot-master/internal/ratelimit"
	"github.com/master-pd/bot-master/internal/spam"
	"github.com/master-pd/bot-master/internal/store"
	"github.com/master-pd/bot-master/internal/update"
)

// Drop reasons.
const (
	DropRateLimited = "rate_limited"
	DropSpam        = "spam"
)

const (
	userAction   = "message"
	noticeAction = "throttle_notice"
)

// Config tunes the per-event stages.
type Config struct {
	UserLimit             int
	UserWindow            time.Duration
	NotifyPrivateThrottle bool
	NotifyOwnerOnError    bool
}

// Deps are the stage collaborators. Spam, Messenger, Settings and Sink may
// be nil.
type Deps struct {
	Limiter    *ratelimit.Limiter
	Spam       *spam.Detector
	Resolver   *permissions.Resolver
	Dispatcher *features.Dispatcher
	Messenger  channels.Messenger
	Settings   store.ChatConfigStore
	Sink       ErrorSink
	Stats      *Stats
	Logger     *slog.Logger
}

// Result is the outcome of one event.
type Result struct {
	UpdateID int64
	Dropped  string // empty when the event reached the dispatcher
	Grant    permissions.Grant
	Report   features.Report
}

// Processor runs the stages for one event at a time; it is safe to share
// between workers.
type Processor struct {
	d      Deps
	cfg    Config
	tracer trace.Tracer
}

func NewProcessor(d Deps, cfg Config) *Processor {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Stats == nil {
		d.Stats = &Stats{}
	}
	if cfg.UserLimit <= 0 {
		cfg.UserLimit = 20
	}
	if cfg.UserWindow <= 0 {
		cfg.UserWindow = time.Minute
	}
	return &Processor{d: d, cfg: cfg, tracer: otel.Tracer("botmaster/pipeline")}
}

// Stats returns the shared counters.
func (p *Processor) Stats() *Stats { return p.d.Stats }

// Process runs one validated event through the pipeline. Stages run
// strictly in order; nothing here returns an error to the caller.
func (p *Processor) Process(ctx context.Context, ev *update.Event) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.Int64("update.id", ev.ID),
		attribute.String("update.kind", string(ev.Kind)),
	))
	defer span.End()

	res := Result{UpdateID: ev.ID}

	if ev.Actor != nil {
		subject := strconv.FormatInt(ev.Actor.ID, 10)

		if !p.admitUser(ctx, ev, subject) {
			res.Dropped = DropRateLimited
			p.d.Stats.RateLimited.Add(1)
			span.SetAttributes(attribute.String("pipeline.dropped", res.Dropped))
			return res
		}

		if p.isSpam(ctx, ev, subject) {
			res.Dropped = DropSpam
			p.d.Stats.Spam.Add(1)
			p.d.Logger.Info("security.spam_dropped", "update_id", ev.ID, "subject", subject,
				"text", channels.Preview(ev.Text, channels.PreviewWidth))
			span.SetAttributes(attribute.String("pipeline.dropped", res.Dropped))
			return res
		}
	}

	res.Grant = p.d.Resolver.Resolve(ctx, ev.Actor, ev.Chat)
	span.SetAttributes(attribute.String("permission.level", res.Grant.Level.String()))

	res.Report = p.d.Dispatcher.Dispatch(ctx, ev, res.Grant)
	if res.Report.Processed {
		p.d.Stats.Processed.Add(1)
	} else {
		p.d.Stats.Ignored.Add(1)
	}

	for _, f := range res.Report.Failures {
		p.d.Stats.Failures.Add(1)
		if p.cfg.NotifyOwnerOnError {
			p.d.Sink.Report(Failure{UpdateID: ev.ID, Stage: StageDispatch, Feature: f.Feature, Err: f.Error})
		}
	}

	p.d.Logger.Debug("update processed", "update_id", ev.ID, "kind", ev.Kind,
		"level", res.Grant.Level.String(), "results", len(res.Report.Results),
		"failures", len(res.Report.Failures), "skipped", len(res.Report.Skipped))
	return res
}

// admitUser applies the per-user message limit. In private chats a
// throttled user is told when to retry, at most once per window.
func (p *Processor) admitUser(ctx context.Context, ev *update.Event, subject string) bool {
	r := p.d.Limiter.Check(ctx, "user:"+subject, userAction, p.cfg.UserLimit, p.cfg.UserWindow)
	if r.Allowed {
		return true
	}
	p.d.Logger.Info("pipeline.user_throttled", "update_id", ev.ID, "subject", subject,
		"action", userAction, "retry_after", r.RetryAfterSeconds(), "backend", r.Backend)

	if !p.cfg.NotifyPrivateThrottle || p.d.Messenger == nil || !ev.Chat.IsPrivate() {
		return false
	}
	if n := p.d.Limiter.Check(ctx, "user:"+subject, noticeAction, 1, p.cfg.UserWindow); !n.Allowed {
		return false
	}
	text := fmt.Sprintf("Slow down! You can send another message in %d seconds.", r.RetryAfterSeconds())
	if _, err := p.d.Messenger.Send(ctx, ev.Chat.ID, text, channels.SendOptions{ReplyTo: ev.MessageID}); err != nil {
		p.d.Logger.Warn("throttle notice failed", "update_id", ev.ID, "subject", subject, "error", err)
	}
	return false
}

func (p *Processor) isSpam(ctx context.Context, ev *update.Event, subject string) bool {
	if p.d.Spam == nil || !ev.HasText() {
		return false
	}
	if ev.Chat != nil && !builtin.Enabled(ctx, p.d.Settings, ev.Chat.ID, builtin.SettingAntiSpam) {
		return false
	}
	return p.d.Spam.IsSpam(ctx, ev.Text, subject)
}
