package features

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/master-pd/bot-master/internal/permissions"
	"github.com/master-pd/bot-master/internal/update"
)

// Dispatcher routes events through a Registry. Safe for concurrent use;
// each Dispatch call is sequential across features.
type Dispatcher struct {
	reg     *Registry
	logger  *slog.Logger
	timeout time.Duration
	tracer  trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHandlerTimeout sets the default per-handler timeout.
func WithHandlerTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// NewDispatcher creates a dispatcher. A nil logger uses slog.Default().
func NewDispatcher(reg *Registry, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		reg:     reg,
		logger:  logger,
		timeout: DefaultHandlerTimeout,
		tracer:  otel.Tracer("github.com/master-pd/bot-master/internal/features"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Dispatch runs every applicable, permitted feature for ev in registration
// order. A failing handler is logged and left out of the results; it never
// stops the loop.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *update.Event, grant permissions.Grant) Report {
	rep := Report{Results: []Result{}}

	for _, f := range d.reg.features {
		if f.IgnoreBots && ev.Actor != nil && ev.Actor.IsBot {
			continue
		}
		if !applicable(f, ev) {
			continue
		}
		if !grant.HasAny(f.Permissions) {
			d.logger.Debug("feature skipped",
				"feature", f.Name, "update_id", ev.ID, "level", grant.Level.String(),
				"required", f.Permissions, "error", ErrPermissionDenied)
			rep.Skipped = append(rep.Skipped, Skip{Feature: f.Name, Reason: ErrPermissionDenied.Error()})
			continue
		}

		req := &Request{Event: ev, Grant: grant}
		if f.Command != "" {
			_, req.Args = update.ParseCommand(ev.Text)
		}

		out, err := d.invoke(ctx, f, req)
		if err != nil {
			herr := &HandlerError{Feature: f.Name, Err: err}
			d.logger.Error("feature handler failed", "feature", f.Name, "update_id", ev.ID, "error", herr)
			rep.Failures = append(rep.Failures, Failure{Feature: f.Name, Error: err.Error()})
			continue
		}
		if out != nil {
			rep.Results = append(rep.Results, Result{Feature: f.Name, Outcome: out})
			rep.Processed = true
		}
	}
	return rep
}

type handlerReply struct {
	out *Outcome
	err error
}

// invoke runs the handler under its timeout and converts panics to errors.
// A handler that ignores its context is abandoned at the deadline and keeps
// running in the background.
func (d *Dispatcher) invoke(ctx context.Context, f Descriptor, req *Request) (*Outcome, error) {
	timeout := d.timeout
	if f.Timeout > 0 {
		timeout = f.Timeout
	}

	ctx, span := d.tracer.Start(ctx, "feature."+f.Name, trace.WithAttributes(
		attribute.String("feature.name", f.Name),
		attribute.Int64("update.id", req.Event.ID),
		attribute.String("update.kind", string(req.Event.Kind)),
	))
	defer span.End()

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan handlerReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("feature handler panic", "feature", f.Name, "panic", r, "stack", string(debug.Stack()))
				ch <- handlerReply{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := f.Handler(hctx, req)
		ch <- handlerReply{out: out, err: err}
	}()

	var r handlerReply
	select {
	case r = <-ch:
	case <-hctx.Done():
		r = handlerReply{err: fmt.Errorf("timed out after %s: %w", timeout, hctx.Err())}
	}
	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
	}
	return r.out, r.err
}

// applicable reports whether f handles ev by kind and, for message events
// with a command, by command prefix.
func applicable(f Descriptor, ev *update.Event) bool {
	matched := false
	for _, k := range f.Events {
		if k == update.KindAny || k == ev.Kind {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if f.Command != "" && ev.Kind == update.KindMessage {
		return MatchCommand(ev.Text, f.Command)
	}
	return true
}

// MatchCommand reports whether text starts with "/cmd" followed by the end
// of text, whitespace or an "@botname" suffix. Case-insensitive.
func MatchCommand(text, cmd string) bool {
	prefix := "/" + cmd
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return false
	}
	rest := text[len(prefix):]
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return r == '@' || unicode.IsSpace(r)
}
