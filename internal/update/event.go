// Package update turns raw Telegram webhook payloads into the normalized
// event view the rest of the pipeline works with.
//
// Validate is the single authority on whether a payload is structurally
// acceptable. Build resolves the ambiguous accessor fields (actor, chat,
// text, message id) across the different update shapes using a fixed
// precedence order.
package update

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/mymmrac/telego"
)

// Kind identifies which variant of a Telegram update an event carries.
type Kind string

const (
	KindMessage         Kind = "message"
	KindEditedMessage   Kind = "edited_message"
	KindCallbackQuery   Kind = "callback_query"
	KindInlineQuery     Kind = "inline_query"
	KindChatMember      Kind = "chat_member"
	KindMyChatMember    Kind = "my_chat_member" // the bot's own membership changed
	KindChatJoinRequest Kind = "chat_join_request"

	// KindAny is only meaningful in feature descriptors: it matches every kind.
	KindAny Kind = "*"
)

// Kinds lists the recognized kinds in accessor precedence order.
// The order decides which actor/chat a feature sees when a payload could
// answer from more than one variant, so it must not be rearranged.
var Kinds = []Kind{
	KindMessage,
	KindEditedMessage,
	KindCallbackQuery,
	KindInlineQuery,
	KindChatMember,
	KindMyChatMember,
	KindChatJoinRequest,
}

// Valid reports whether k is one of the recognized kinds (KindAny excluded).
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Actor is the user who caused the update.
type Actor struct {
	ID          int64
	IsBot       bool
	Username    string
	DisplayName string
}

// Chat is the conversation the update belongs to.
type Chat struct {
	ID    int64
	Type  string // "private", "group", "supergroup", "channel"
	Title string
}

// IsPrivate reports whether the chat is a one-to-one conversation with the bot.
func (c *Chat) IsPrivate() bool { return c != nil && c.Type == "private" }

// IsGroup reports whether the chat is a group or supergroup.
func (c *Chat) IsGroup() bool {
	return c != nil && (c.Type == "group" || c.Type == "supergroup")
}

// Event is the normalized view of one inbound update.
// It is built once per update and must be treated as read-only afterwards:
// a single pipeline job owns it for its whole lifetime.
type Event struct {
	ID        int64
	Kind      Kind
	Actor     *Actor // nil when no variant carries a sender
	Chat      *Chat  // nil for inline queries and sender-less updates
	Text      string // empty when absent
	MessageID int    // zero when absent

	// Update is the typed payload for handlers that need extra fields
	// (reply_to_message, new_chat_member, ...).
	Update *telego.Update
	// Raw is the original request body.
	Raw json.RawMessage
}

// HasText reports whether the event carries text (message text, edited text
// or callback data).
func (e *Event) HasText() bool { return e.Text != "" }

// Command returns the bot command at the start of the text, lowercased and
// without the leading slash or @botname suffix, plus the remaining arguments.
// Returns empty strings when the text is not a command.
func (e *Event) Command() (cmd, args string) {
	return ParseCommand(e.Text)
}

// ParseCommand extracts the command name and arguments from a message.
// It handles "/command", "/command args" and "/command@botname args"; any
// whitespace, including a newline, ends the command.
func ParseCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	cmd = text[1:]
	if i := strings.IndexFunc(cmd, unicode.IsSpace); i != -1 {
		cmd, args = cmd[:i], strings.TrimSpace(cmd[i:])
	}

	if at := strings.Index(cmd, "@"); at != -1 {
		cmd = cmd[:at]
	}

	return strings.ToLower(cmd), args
}

func actorFromUser(u *telego.User) *Actor {
	if u == nil || u.ID == 0 {
		return nil
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return &Actor{
		ID:          u.ID,
		IsBot:       u.IsBot,
		Username:    u.Username,
		DisplayName: name,
	}
}

func chatFromTelego(c *telego.Chat) *Chat {
	if c == nil || c.ID == 0 {
		return nil
	}
	return &Chat{ID: c.ID, Type: c.Type, Title: c.Title}
}
