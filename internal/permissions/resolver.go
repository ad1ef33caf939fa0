package permissions

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/master-pd/bot-master/internal/channels"
	"github.com/master-pd/bot-master/internal/update"
)

// DefaultLookupTimeout bounds the chat membership lookup.
const DefaultLookupTimeout = 2 * time.Second

// OwnerSettingKey is the chat-0 setting consulted when no platform owner
// id is configured.
const OwnerSettingKey = "platform_owner_id"

// MemberLookup returns a user's status in a chat.
type MemberLookup interface {
	ChatMemberStatus(ctx context.Context, chatID, userID int64) (channels.MemberStatus, error)
}

// SettingsReader reads per-chat settings. Chat id 0 holds global values.
type SettingsReader interface {
	Get(ctx context.Context, chatID int64, key string) (string, bool, error)
}

// Config configures a Resolver.
type Config struct {
	PlatformOwnerID int64
	LookupTimeout   time.Duration
}

// Resolver is safe for concurrent use.
type Resolver struct {
	lookup   MemberLookup
	settings SettingsReader
	ownerID  int64
	timeout  time.Duration
}

// NewResolver creates a resolver. lookup and settings may be nil.
func NewResolver(lookup MemberLookup, settings SettingsReader, cfg Config) *Resolver {
	r := &Resolver{
		lookup:   lookup,
		settings: settings,
		ownerID:  cfg.PlatformOwnerID,
		timeout:  cfg.LookupTimeout,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultLookupTimeout
	}
	return r
}

// Resolve returns the grant for actor in chat. Lookup failures never
// escalate: they resolve to member.
func (r *Resolver) Resolve(ctx context.Context, actor *update.Actor, chat *update.Chat) Grant {
	if actor == nil {
		return GrantFor(Guest)
	}

	if owner := r.platformOwner(ctx); owner != 0 && actor.ID == owner {
		return GrantFor(PlatformOwner)
	}

	if chat == nil || chat.IsPrivate() || r.lookup == nil {
		return GrantFor(Member)
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	status, err := r.lookup.ChatMemberStatus(lctx, chat.ID, actor.ID)
	if err != nil {
		slog.Warn("permissions: member lookup failed, defaulting to member",
			"chat_id", chat.ID, "user_id", actor.ID, "error", err)
		return GrantFor(Member)
	}

	switch status {
	case channels.StatusCreator:
		return GrantFor(Owner)
	case channels.StatusAdministrator:
		return GrantFor(Admin)
	default:
		return GrantFor(Member)
	}
}

// PlatformOwnerID returns the effective platform owner id, or 0 if unknown.
func (r *Resolver) PlatformOwnerID(ctx context.Context) int64 {
	return r.platformOwner(ctx)
}

func (r *Resolver) platformOwner(ctx context.Context) int64 {
	if r.ownerID != 0 || r.settings == nil {
		return r.ownerID
	}

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, ok, err := r.settings.Get(sctx, 0, OwnerSettingKey)
	if err != nil {
		slog.Warn("permissions: read platform owner setting", "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		slog.Warn("permissions: invalid platform owner setting", "value", v, "error", err)
		return 0
	}
	return id
}
