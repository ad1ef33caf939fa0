package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/config"
	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

const testToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0"

// apiStub records Bot API calls and answers from a per-method table.
type apiStub struct {
	mu      sync.Mutex
	calls   map[string][]map[string]any
	results map[string]string
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)
	params := map[string]any{}
	_ = json.Unmarshal(body, &params)

	s.mu.Lock()
	s.calls[method] = append(s.calls[method], params)
	result, ok := s.results[method]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		result = "true"
	}
	_, _ = io.WriteString(w, `{"ok":true,"result":`+result+`}`)
}

func (s *apiStub) last(method string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.calls[method]
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func newTestClient(t *testing.T, results map[string]string) (*Client, *apiStub) {
	t.Helper()
	stub := &apiStub{calls: map[string][]map[string]any{}, results: results}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c, err := New(config.TelegramConfig{Token: testToken, APIServer: srv.URL, SendRPS: 1000, SendBurst: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, stub
}

func TestNew_RejectsBadProxy(t *testing.T) {
	if _, err := New(config.TelegramConfig{Token: testToken, Proxy: "://bad"}); err == nil {
		t.Fatal("expected proxy parse error")
	}
}

func TestNew_RejectsBadToken(t *testing.T) {
	if _, err := New(config.TelegramConfig{Token: "nope"}); err == nil {
		t.Fatal("expected token error")
	}
}

func TestSend(t *testing.T) {
	c, stub := newTestClient(t, map[string]string{
		"sendMessage": `{"message_id":77,"date":1700000000,"chat":{"id":-100,"type":"supergroup"}}`,
	})

	id, err := c.Send(context.Background(), -100, "hello", channels.SendOptions{ReplyTo: 5, ParseMode: channels.ParseModeHTML})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != 77 {
		t.Fatalf("message id = %d, want 77", id)
	}

	p := stub.last("sendMessage")
	if p["text"] != "hello" || p["parse_mode"] != "HTML" {
		t.Fatalf("params = %v", p)
	}
	reply, _ := p["reply_parameters"].(map[string]any)
	if reply == nil || reply["message_id"] != float64(5) {
		t.Fatalf("reply_parameters = %v", p["reply_parameters"])
	}
}

func TestSend_ContextCanceledWhileThrottled(t *testing.T) {
	c, _ := newTestClient(t, nil)
	c.limiter.SetBurst(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Send(ctx, 1, "x", channels.SendOptions{}); err == nil {
		t.Fatal("expected throttle error")
	}
}

func TestRestrict(t *testing.T) {
	c, stub := newTestClient(t, nil)
	until := time.Unix(1700000600, 0)

	if err := c.Restrict(context.Background(), -100, 42, channels.Muted, until); err != nil {
		t.Fatalf("Restrict: %v", err)
	}

	p := stub.last("restrictChatMember")
	if p["user_id"] != float64(42) || p["until_date"] != float64(1700000600) {
		t.Fatalf("params = %v", p)
	}
	perms, _ := p["permissions"].(map[string]any)
	if perms["can_send_messages"] != false || perms["can_send_photos"] != false {
		t.Fatalf("permissions = %v", perms)
	}
}

func TestBanUnban(t *testing.T) {
	c, stub := newTestClient(t, nil)
	ctx := context.Background()

	if err := c.Ban(ctx, -100, 42); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if err := c.Unban(ctx, -100, 42); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if stub.last("banChatMember")["user_id"] != float64(42) {
		t.Fatal("ban not sent")
	}
	if stub.last("unbanChatMember")["only_if_banned"] != true {
		t.Fatal("unban should be only_if_banned")
	}
}

func TestPinAndPromote(t *testing.T) {
	c, stub := newTestClient(t, nil)
	ctx := context.Background()

	if err := c.PinMessage(ctx, -100, 9); err != nil {
		t.Fatalf("PinMessage: %v", err)
	}
	if p := stub.last("pinChatMessage"); p["message_id"] != float64(9) || p["chat_id"] != float64(-100) {
		t.Fatalf("pin params = %v", p)
	}

	if err := c.Promote(ctx, -100, 42, channels.ModeratorRights); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	p := stub.last("promoteChatMember")
	if p["user_id"] != float64(42) || p["can_restrict_members"] != true || p["can_pin_messages"] != true {
		t.Fatalf("promote params = %v", p)
	}
	if p["can_promote_members"] != false {
		t.Fatalf("moderators must not promote others: %v", p)
	}
}

func TestChatAdministrators(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getChatAdministrators": `[
			{"status":"creator","user":{"id":1,"is_bot":false,"first_name":"Ann","last_name":"Lee","username":"ann"},"is_anonymous":false},
			{"status":"administrator","user":{"id":2,"is_bot":true,"first_name":"Helper"},"can_be_edited":false,"is_anonymous":false,
			 "can_manage_chat":true,"can_delete_messages":true,"can_manage_video_chats":true,"can_restrict_members":true,
			 "can_promote_members":false,"can_change_info":false,"can_invite_users":true,"can_post_stories":false,
			 "can_edit_stories":false,"can_delete_stories":false}
		]`,
	})

	admins, err := c.ChatAdministrators(context.Background(), -100)
	if err != nil {
		t.Fatalf("ChatAdministrators: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("admins = %+v", admins)
	}
	if !admins[0].IsOwner || admins[0].DisplayName != "Ann Lee" || admins[0].Username != "ann" {
		t.Fatalf("owner = %+v", admins[0])
	}
	if admins[1].IsOwner || !admins[1].IsBot {
		t.Fatalf("bot admin = %+v", admins[1])
	}
}

func TestChatMemberStatus(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getChatMember": `{"status":"member","user":{"id":42,"is_bot":false,"first_name":"Bo"}}`,
	})
	st, err := c.ChatMemberStatus(context.Background(), -100, 42)
	if err != nil {
		t.Fatalf("ChatMemberStatus: %v", err)
	}
	if st != channels.StatusMember {
		t.Fatalf("status = %q", st)
	}
}

func TestSetWebhook(t *testing.T) {
	c, stub := newTestClient(t, nil)
	if err := c.SetWebhook(context.Background(), "https://example.com/webhook", "s3cret", true); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	p := stub.last("setWebhook")
	if p["url"] != "https://example.com/webhook" || p["secret_token"] != "s3cret" || p["drop_pending_updates"] != true {
		t.Fatalf("params = %v", p)
	}
	allowed, _ := p["allowed_updates"].([]any)
	if len(allowed) != len(AllowedUpdates) {
		t.Fatalf("allowed_updates = %v", allowed)
	}
}

func TestMenuCommands(t *testing.T) {
	noop := func(context.Context, *features.Request) (*features.Outcome, error) { return nil, nil }
	reg, err := features.NewBuilder().Add(
		features.Descriptor{Name: "help", Description: "Show help", Command: "help", Events: []update.Kind{update.KindMessage}, Handler: noop},
		features.Descriptor{Name: "ban", Command: "ban", Events: []update.Kind{update.KindMessage}, Handler: noop},
		features.Descriptor{Name: "welcome", Events: []update.Kind{update.KindChatMember}, Handler: noop},
		features.Descriptor{Name: "help2", Command: "help", Events: []update.Kind{update.KindMessage}, Handler: noop},
	).Build()
	if err != nil {
		t.Fatal(err)
	}

	cmds := MenuCommands(reg)
	if len(cmds) != 2 {
		t.Fatalf("commands = %+v", cmds)
	}
	if cmds[0].Command != "ban" || cmds[0].Description != "ban" {
		t.Fatalf("first = %+v", cmds[0])
	}
	if cmds[1].Command != "help" || cmds[1].Description != "Show help" {
		t.Fatalf("second = %+v", cmds[1])
	}
}

func TestSyncMenuCommands(t *testing.T) {
	c, stub := newTestClient(t, nil)
	if err := c.SyncMenuCommands(context.Background(), nil); err != nil {
		t.Fatalf("SyncMenuCommands: %v", err)
	}
	if stub.last("setMyCommands") != nil {
		t.Fatal("empty command list must not call setMyCommands")
	}
}
