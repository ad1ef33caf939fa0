// Package channelstest provides an in-memory channels.Messenger for tests.
package channelstest

import (
	"context"
	"sync"
	"time"

	"github.com/master-pd/bot-master/internal/channels"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID int64
	Text   string
	Opts   channels.SendOptions
}

// Restriction is one recorded Restrict call.
type Restriction struct {
	ChatID, UserID int64
	Perms          channels.Permissions
	Until          time.Time
}

// Promotion is one recorded Promote call.
type Promotion struct {
	ChatID, UserID int64
	Rights         channels.AdminRights
}

// Recorder records every call. Admins and Statuses seed the lookups;
// Err, when set, is returned from every call.
type Recorder struct {
	mu sync.Mutex

	Admins   map[int64][]channels.ChatAdmin
	Statuses map[int64]map[int64]channels.MemberStatus
	Err      error

	sent         []Sent
	restrictions []Restriction
	bans         [][2]int64
	unbans       [][2]int64
	pins         [][2]int64
	promotions   []Promotion
	lookups      int
	nextID       int
}

var _ channels.Messenger = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{
		Admins:   map[int64][]channels.ChatAdmin{},
		Statuses: map[int64]map[int64]channels.MemberStatus{},
	}
}

// SetStatus seeds the member status lookup.
func (r *Recorder) SetStatus(chatID, userID int64, st channels.MemberStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Statuses[chatID] == nil {
		r.Statuses[chatID] = map[int64]channels.MemberStatus{}
	}
	r.Statuses[chatID][userID] = st
}

func (r *Recorder) Send(_ context.Context, chatID int64, text string, opts channels.SendOptions) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	r.nextID++
	r.sent = append(r.sent, Sent{ChatID: chatID, Text: text, Opts: opts})
	return r.nextID, nil
}

func (r *Recorder) Restrict(_ context.Context, chatID, userID int64, perms channels.Permissions, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.restrictions = append(r.restrictions, Restriction{ChatID: chatID, UserID: userID, Perms: perms, Until: until})
	return nil
}

func (r *Recorder) Ban(_ context.Context, chatID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.bans = append(r.bans, [2]int64{chatID, userID})
	return nil
}

func (r *Recorder) Unban(_ context.Context, chatID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.unbans = append(r.unbans, [2]int64{chatID, userID})
	return nil
}

// PinMessage records {chatID, messageID}.
func (r *Recorder) PinMessage(_ context.Context, chatID int64, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.pins = append(r.pins, [2]int64{chatID, int64(messageID)})
	return nil
}

func (r *Recorder) Promote(_ context.Context, chatID, userID int64, rights channels.AdminRights) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.promotions = append(r.promotions, Promotion{ChatID: chatID, UserID: userID, Rights: rights})
	return nil
}

func (r *Recorder) ChatAdministrators(_ context.Context, chatID int64) ([]channels.ChatAdmin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]channels.ChatAdmin(nil), r.Admins[chatID]...), nil
}

func (r *Recorder) ChatMemberStatus(_ context.Context, chatID, userID int64) (channels.MemberStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.Err != nil {
		return "", r.Err
	}
	if st, ok := r.Statuses[chatID][userID]; ok {
		return st, nil
	}
	return channels.StatusMember, nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentTo returns the messages delivered to chatID.
func (r *Recorder) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Restrictions() []Restriction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Restriction(nil), r.restrictions...)
}

func (r *Recorder) Bans() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.bans...)
}

func (r *Recorder) Unbans() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.unbans...)
}

func (r *Recorder) Pins() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.pins...)
}

func (r *Recorder) Promotions() []Promotion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Promotion(nil), r.promotions...)
}

// Lookups counts ChatMemberStatus calls.
func (r *Recorder) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}
