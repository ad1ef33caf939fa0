package update

import (
	"encoding/json"

	"github.com/mymmrac/telego"
)

// Build produces the normalized event for a typed update. kind must be the
// single kind Validate detected; raw is kept for handlers that need it.
func Build(u *telego.Update, kind Kind, raw json.RawMessage) *Event {
	return &Event{
		ID:        int64(u.UpdateID),
		Kind:      kind,
		Actor:     actorOf(u),
		Chat:      chatOf(u),
		Text:      textOf(u),
		MessageID: messageIDOf(u),
		Update:    u,
		Raw:       raw,
	}
}

// Each accessor walks the variants in Kinds order and returns the first
// non-empty answer.

func actorOf(u *telego.Update) *Actor {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return actorFromUser(u.Message.From)
	case u.EditedMessage != nil && u.EditedMessage.From != nil:
		return actorFromUser(u.EditedMessage.From)
	case u.CallbackQuery != nil:
		return actorFromUser(&u.CallbackQuery.From)
	case u.InlineQuery != nil:
		return actorFromUser(&u.InlineQuery.From)
	case u.ChatMember != nil:
		return actorFromUser(&u.ChatMember.From)
	case u.MyChatMember != nil:
		return actorFromUser(&u.MyChatMember.From)
	case u.ChatJoinRequest != nil:
		return actorFromUser(&u.ChatJoinRequest.From)
	}
	return nil
}

func chatOf(u *telego.Update) *Chat {
	if u.Message != nil {
		if c := chatFromTelego(&u.Message.Chat); c != nil {
			return c
		}
	}
	if u.EditedMessage != nil {
		if c := chatFromTelego(&u.EditedMessage.Chat); c != nil {
			return c
		}
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		chat := u.CallbackQuery.Message.GetChat()
		if c := chatFromTelego(&chat); c != nil {
			return c
		}
	}
	// Inline queries carry no chat.
	if u.ChatMember != nil {
		if c := chatFromTelego(&u.ChatMember.Chat); c != nil {
			return c
		}
	}
	if u.MyChatMember != nil {
		if c := chatFromTelego(&u.MyChatMember.Chat); c != nil {
			return c
		}
	}
	if u.ChatJoinRequest != nil {
		return chatFromTelego(&u.ChatJoinRequest.Chat)
	}
	return nil
}

func textOf(u *telego.Update) string {
	if u.Message != nil && u.Message.Text != "" {
		return u.Message.Text
	}
	if u.EditedMessage != nil && u.EditedMessage.Text != "" {
		return u.EditedMessage.Text
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.Data
	}
	return ""
}

func messageIDOf(u *telego.Update) int {
	if u.Message != nil && u.Message.MessageID != 0 {
		return u.Message.MessageID
	}
	if u.EditedMessage != nil && u.EditedMessage.MessageID != 0 {
		return u.EditedMessage.MessageID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		return u.CallbackQuery.Message.GetMessageID()
	}
	return 0
}
