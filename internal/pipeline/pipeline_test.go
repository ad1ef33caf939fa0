package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/master-pd/bot-master/internal/channels/channelstest"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/permissions"
	"github.com/master-pd/bot-master/internal/ratelimit"
	"github.com/master-pd/bot-master/internal/spam"
	"github.com/master-pd/bot-master/internal/store"
	"github.com/master-pd/bot-master/internal/update"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	msg      *channelstest.Recorder
	settings *store.MemoryChatConfigStore
	sink     ErrorSink
	proc     *Processor
	calls    map[string]int
	mu       sync.Mutex
}

func (h *harness) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func newHarness(t *testing.T, cfg Config, descs ...features.Descriptor) *harness {
	t.Helper()
	h := &harness{
		msg:      channelstest.New(),
		settings: store.NewMemoryChatConfigStore(),
		sink:     NewErrorSink(8),
		calls:    map[string]int{},
	}

	limiter := ratelimit.New(ratelimit.NewLocalStore())
	detector, err := spam.New(limiter, spam.Config{BurstLimit: 5, BurstWindow: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	if len(descs) == 0 {
		descs = []features.Descriptor{{
			Name:        "help",
			Events:      []update.Kind{update.KindMessage},
			Command:     "help",
			Permissions: []string{"member"},
			Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
				h.mu.Lock()
				h.calls["help"]++
				h.mu.Unlock()
				return &features.Outcome{Action: "help_sent"}, nil
			},
		}}
	}
	reg, err := features.NewBuilder().Add(descs...).Build()
	if err != nil {
		t.Fatal(err)
	}

	h.proc = NewProcessor(Deps{
		Limiter:    limiter,
		Spam:       detector,
		Resolver:   permissions.NewResolver(h.msg, h.settings, permissions.Config{}),
		Dispatcher: features.NewDispatcher(reg, quietLogger()),
		Messenger:  h.msg,
		Settings:   h.settings,
		Sink:       h.sink,
		Logger:     quietLogger(),
	}, cfg)
	return h
}

func validate(t *testing.T, raw string) *update.Event {
	t.Helper()
	ev, err := update.Validate([]byte(raw))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return ev
}

func TestProcess_EndToEndHelp(t *testing.T) {
	h := newHarness(t, Config{})
	ev := validate(t, `{"update_id":1,"message":{"from":{"id":5,"is_bot":false},"chat":{"id":-100,"type":"group"},"text":"/help"}}`)

	res := h.proc.Process(context.Background(), ev)

	if res.Dropped != "" {
		t.Fatalf("dropped: %s", res.Dropped)
	}
	if res.Grant.Level != permissions.Member {
		t.Fatalf("level = %s, want member", res.Grant.Level)
	}
	if !res.Report.Processed || len(res.Report.Results) != 1 || res.Report.Results[0].Feature != "help" {
		t.Fatalf("report = %+v", res.Report)
	}
	if got := h.proc.Stats().Snapshot().Processed; got != 1 {
		t.Fatalf("processed = %d", got)
	}
}

func privateText(id int64, updateID int, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1,"from":{"id":%d,"is_bot":false,"first_name":"U"},
		"chat":{"id":%d,"type":"private"},"text":%q}}`, updateID, updateID, id, id, text)
}

func TestProcess_UserLimitWithPrivateNotice(t *testing.T) {
	h := newHarness(t, Config{UserLimit: 3, UserWindow: time.Minute, NotifyPrivateThrottle: true})
	ctx := context.Background()

	// The spam burst limit is 5, so the user limit has to trip first.
	for i := 1; i <= 3; i++ {
		if r := h.proc.Process(ctx, validate(t, privateText(9, i, "/help"))); r.Dropped != "" {
			t.Fatalf("message %d dropped: %s", i, r.Dropped)
		}
	}
	for i := 4; i <= 6; i++ {
		if r := h.proc.Process(ctx, validate(t, privateText(9, i, "/help"))); r.Dropped != DropRateLimited {
			t.Fatalf("message %d: dropped = %q", i, r.Dropped)
		}
	}

	if h.count("help") != 3 {
		t.Fatalf("help calls = %d", h.count("help"))
	}
	notices := h.msg.SentTo(9)
	if len(notices) != 1 || !strings.Contains(notices[0].Text, "Slow down") {
		t.Fatalf("notices = %+v", notices)
	}
	if got := h.proc.Stats().Snapshot().RateLimited; got != 3 {
		t.Fatalf("rate limited = %d", got)
	}
}

func TestProcess_GroupThrottleIsSilent(t *testing.T) {
	h := newHarness(t, Config{UserLimit: 1, UserWindow: time.Minute, NotifyPrivateThrottle: true})
	raw := `{"update_id":%d,"message":{"from":{"id":5,"is_bot":false},"chat":{"id":-100,"type":"group"},"text":"hi"}}`
	h.proc.Process(context.Background(), validate(t, fmt.Sprintf(raw, 1)))
	if r := h.proc.Process(context.Background(), validate(t, fmt.Sprintf(raw, 2))); r.Dropped != DropRateLimited {
		t.Fatalf("dropped = %q", r.Dropped)
	}
	if len(h.msg.Sent()) != 0 {
		t.Fatal("group throttle must not reply")
	}
}

func TestProcess_SpamDropped(t *testing.T) {
	h := newHarness(t, Config{})
	ev := validate(t, `{"update_id":7,"message":{"from":{"id":5,"is_bot":false},"chat":{"id":-100,"type":"group"},"text":"/help visit https://spam.example"}}`)

	if r := h.proc.Process(context.Background(), ev); r.Dropped != DropSpam {
		t.Fatalf("dropped = %q", r.Dropped)
	}
	if h.count("help") != 0 {
		t.Fatal("spam reached the dispatcher")
	}
}

func TestProcess_SpamInCallbackData(t *testing.T) {
	var handled int
	h := newHarness(t, Config{}, features.Descriptor{
		Name:        "buttons",
		Events:      []update.Kind{update.KindCallbackQuery},
		Permissions: []string{"member"},
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			handled++
			return &features.Outcome{Action: "pressed"}, nil
		},
	})
	callback := func(id int, data string) *update.Event {
		return validate(t, fmt.Sprintf(`{"update_id":%d,"callback_query":{"id":"cb%d","from":{"id":11,"is_bot":false,"first_name":"Bo"},
			"chat_instance":"ci","data":%q,"message":{"message_id":44,"date":1700000000,"chat":{"id":-200,"type":"supergroup","title":"S"}}}}`, id, id, data))
	}

	if r := h.proc.Process(context.Background(), callback(20, "visit https://spam.example")); r.Dropped != DropSpam {
		t.Fatalf("dropped = %q", r.Dropped)
	}
	if r := h.proc.Process(context.Background(), callback(21, "vote:1")); r.Dropped != "" {
		t.Fatalf("clean callback dropped = %q", r.Dropped)
	}
	if handled != 1 {
		t.Fatalf("handled = %d, want only the clean callback", handled)
	}
}

func TestProcess_AntiSpamSettingOff(t *testing.T) {
	h := newHarness(t, Config{})
	_ = h.settings.Set(context.Background(), -100, "antispam", "off")
	ev := validate(t, `{"update_id":7,"message":{"from":{"id":5,"is_bot":false},"chat":{"id":-100,"type":"group"},"text":"/help https://docs.example"}}`)

	if r := h.proc.Process(context.Background(), ev); r.Dropped != "" {
		t.Fatalf("dropped = %q", r.Dropped)
	}
	if h.count("help") != 1 {
		t.Fatal("help not dispatched")
	}
}

func TestProcess_SenderlessEventSkipsLimits(t *testing.T) {
	h := newHarness(t, Config{UserLimit: 1})
	ev := validate(t, `{"update_id":8,"message":{"chat":{"id":-100,"type":"group"},"text":"/help"}}`)
	for i := 0; i < 3; i++ {
		if r := h.proc.Process(context.Background(), ev); r.Dropped != "" {
			t.Fatalf("dropped = %q", r.Dropped)
		}
	}
}

func TestProcess_DispatchFailureReportedToSink(t *testing.T) {
	boom := features.Descriptor{
		Name:   "boom",
		Events: []update.Kind{update.KindAny},
		Handler: func(context.Context, *features.Request) (*features.Outcome, error) {
			return nil, errors.New("kaput")
		},
	}
	h := newHarness(t, Config{NotifyOwnerOnError: true}, boom)
	h.proc.Process(context.Background(), validate(t, privateText(5, 3, "hello")))

	select {
	case f := <-h.sink:
		if f.Stage != StageDispatch || f.Feature != "boom" || f.UpdateID != 3 || f.Err != "kaput" {
			t.Fatalf("failure = %+v", f)
		}
	default:
		t.Fatal("no failure reported")
	}
}

func TestProcess_DispatchFailureNotReportedWhenDisabled(t *testing.T) {
	boom := features.Descriptor{
		Name:   "boom",
		Events: []update.Kind{update.KindAny},
		Handler: func(context.Context, *features.Request) (*features.Outcome, error) {
			return nil, errors.New("kaput")
		},
	}
	h := newHarness(t, Config{}, boom)
	h.proc.Process(context.Background(), validate(t, privateText(5, 3, "hello")))
	if len(h.sink) != 0 {
		t.Fatal("failure reported with owner notifications off")
	}
	if h.proc.Stats().Snapshot().Failures != 1 {
		t.Fatal("failure not counted")
	}
}

func TestErrorSink_NilAndFull(t *testing.T) {
	var nilSink ErrorSink
	nilSink.Report(Failure{Stage: StagePanic})

	s := NewErrorSink(1)
	s.Report(Failure{UpdateID: 1})
	s.Report(Failure{UpdateID: 2})
	if len(s) != 1 || (<-s).UpdateID != 1 {
		t.Fatal("full sink must keep the first failure and drop the rest")
	}
}

func TestFailure_String(t *testing.T) {
	f := Failure{UpdateID: 4, Stage: StageDispatch, Feature: "admin", Err: "boom"}
	if got := f.String(); got != "update 4: dispatch (admin): boom" {
		t.Fatalf("got %q", got)
	}
}
