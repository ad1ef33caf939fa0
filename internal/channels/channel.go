// Package channels defines the outbound messaging surface the pipeline and
// features talk to. The Telegram implementation lives in channels/telegram;
// tests use in-memory fakes.
package channels

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by messengers that cannot perform an action.
var ErrNotSupported = errors.New("channels: operation not supported")

// MemberStatus is a chat member's role as reported by the platform.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// ParseMode values for SendOptions.
const (
	ParseModeNone     = ""
	ParseModeHTML     = "HTML"
	ParseModeMarkdown = "Markdown"
)

// SendOptions tune an outbound message.
type SendOptions struct {
	ReplyTo             int    // message id to reply to, 0 for none
	ParseMode           string // ParseModeHTML, ParseModeMarkdown or none
	DisableNotification bool
}

// Permissions is the subset of chat permissions features restrict.
type Permissions struct {
	CanSendMessages       bool
	CanSendMedia          bool
	CanSendOther          bool
	CanAddWebPagePreviews bool
}

// Muted revokes every send permission.
var Muted = Permissions{}

// Unmuted restores the default send permissions.
var Unmuted = Permissions{
	CanSendMessages:       true,
	CanSendMedia:          true,
	CanSendOther:          true,
	CanAddWebPagePreviews: true,
}

// AdminRights is the set of administrator rights granted on promotion.
type AdminRights struct {
	CanChangeInfo      bool
	CanDeleteMessages  bool
	CanInviteUsers     bool
	CanRestrictMembers bool
	CanPinMessages     bool
	CanPromoteMembers  bool
}

// ModeratorRights lets a promoted member moderate without promoting others.
var ModeratorRights = AdminRights{
	CanChangeInfo:      true,
	CanDeleteMessages:  true,
	CanInviteUsers:     true,
	CanRestrictMembers: true,
	CanPinMessages:     true,
}

// ChatAdmin describes one administrator of a chat.
type ChatAdmin struct {
	UserID      int64
	Username    string
	DisplayName string
	IsOwner     bool // chat creator
	IsBot       bool
}

// Messenger is the outbound client used by features, the permission
// resolver and the owner notifier. Implementations must be safe for
// concurrent use.
type Messenger interface {
	// Send delivers a text message and returns the new message id.
	Send(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)

	// Restrict changes a member's permissions until the given time.
	// A zero until means forever.
	Restrict(ctx context.Context, chatID, userID int64, perms Permissions, until time.Time) error

	Ban(ctx context.Context, chatID, userID int64) error
	Unban(ctx context.Context, chatID, userID int64) error

	PinMessage(ctx context.Context, chatID int64, messageID int) error
	Promote(ctx context.Context, chatID, userID int64, rights AdminRights) error

	ChatAdministrators(ctx context.Context, chatID int64) ([]ChatAdmin, error)
	ChatMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
}
