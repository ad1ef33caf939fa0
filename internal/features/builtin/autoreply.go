package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"

	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

// rulesFile is the on-disk shape. Replies are a string or a list of
// strings, one picked at random. JSON5 comments are allowed.
//
//	{
//	  exact:    {"hi": ["Hello!", "Hey!"]},
//	  contains: {"thank": "You're welcome!"},
//	  regex:    [{pattern: "^good (morning|night)", reply: "Same to you!"}],
//	}
type rulesFile struct {
	Exact    map[string]any `json:"exact"`
	Contains map[string]any `json:"contains"`
	Regex    []struct {
		Pattern string `json:"pattern"`
		Reply   any    `json:"reply"`
	} `json:"regex"`
}

type containsRule struct {
	trigger string
	replies []string
}

type regexRule struct {
	re      *regexp.Regexp
	replies []string
}

type ruleSet struct {
	exact    map[string][]string
	contains []containsRule
	regex    []regexRule
}

// AutoReplyRules holds the current rule set. Lookups are lock-free; a
// reload swaps the whole set.
type AutoReplyRules struct {
	path  string
	rules atomic.Pointer[ruleSet]
	pick  func(n int) int
}

// LoadAutoReplyRules reads rules from path.
func LoadAutoReplyRules(path string) (*AutoReplyRules, error) {
	r := &AutoReplyRules{path: path, pick: rand.IntN}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseAutoReplyRules builds rules from an in-memory document. The result
// has no backing file and cannot be reloaded.
func ParseAutoReplyRules(data []byte) (*AutoReplyRules, error) {
	set, err := parseRules(data)
	if err != nil {
		return nil, err
	}
	r := &AutoReplyRules{pick: rand.IntN}
	r.rules.Store(set)
	return r, nil
}

// Reload re-reads the backing file. On error the previous rules stay active.
func (r *AutoReplyRules) Reload() error {
	if r.path == "" {
		return fmt.Errorf("autoreply rules have no backing file")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read autoreply rules: %w", err)
	}
	set, err := parseRules(data)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}
	r.rules.Store(set)
	return nil
}

func parseRules(data []byte) (*ruleSet, error) {
	var f rulesFile
	if err := json5.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse autoreply rules: %w", err)
	}

	set := &ruleSet{exact: make(map[string][]string, len(f.Exact))}
	for trigger, v := range f.Exact {
		replies, err := replyList(v)
		if err != nil {
			return nil, fmt.Errorf("exact %q: %w", trigger, err)
		}
		set.exact[normalize(trigger)] = replies
	}
	for trigger, v := range f.Contains {
		replies, err := replyList(v)
		if err != nil {
			return nil, fmt.Errorf("contains %q: %w", trigger, err)
		}
		t := normalize(trigger)
		if t == "" {
			return nil, fmt.Errorf("contains: empty trigger")
		}
		set.contains = append(set.contains, containsRule{trigger: t, replies: replies})
	}
	// Longest trigger first, so "good morning" beats "good".
	sort.Slice(set.contains, func(i, j int) bool {
		a, b := set.contains[i].trigger, set.contains[j].trigger
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	for i, rr := range f.Regex {
		re, err := regexp.Compile("(?i)" + rr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("regex[%d]: %w", i, err)
		}
		replies, err := replyList(rr.Reply)
		if err != nil {
			return nil, fmt.Errorf("regex[%d]: %w", i, err)
		}
		set.regex = append(set.regex, regexRule{re: re, replies: replies})
	}
	return set, nil
}

func replyList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, fmt.Errorf("empty reply")
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("replies must be non-empty strings")
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty reply list")
		}
		return out, nil
	}
	return nil, fmt.Errorf("reply must be a string or a list of strings")
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Match returns a reply for text. Exact triggers win over contains
// triggers, which win over regex rules (in file order).
func (r *AutoReplyRules) Match(text string) (string, bool) {
	set := r.rules.Load()
	if set == nil {
		return "", false
	}
	msg := normalize(text)
	if msg == "" {
		return "", false
	}
	if replies, ok := set.exact[msg]; ok {
		return r.choose(replies), true
	}
	for _, c := range set.contains {
		if strings.Contains(msg, c.trigger) {
			return r.choose(c.replies), true
		}
	}
	for _, rr := range set.regex {
		if rr.re.MatchString(msg) {
			return r.choose(rr.replies), true
		}
	}
	return "", false
}

func (r *AutoReplyRules) choose(replies []string) string {
	if len(replies) == 1 {
		return replies[0]
	}
	return replies[r.pick(len(replies))]
}

// Watch reloads the rules whenever the backing file is written or
// replaced, until ctx is cancelled. The parent directory is watched
// because editors usually replace files instead of writing in place.
func (r *AutoReplyRules) Watch(ctx context.Context) error {
	if r.path == "" {
		return fmt.Errorf("autoreply rules have no backing file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("autoreply watcher: %w", err)
	}
	defer w.Close()

	dir, base := filepath.Dir(r.path), filepath.Base(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := r.Reload(); err != nil {
				slog.Warn("autoreply.reload_failed", "path", r.path, "error", err)
				continue
			}
			slog.Info("autoreply rules reloaded", "path", r.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("autoreply watcher error", "error", err)
		}
	}
}

func autoReplyFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "autoreply",
		Description: "Answer common messages automatically",
		Version:     version,
		Events:      []update.Kind{update.KindMessage},
		Permissions: []string{"member"},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			ev := req.Event
			if !ev.HasText() || strings.HasPrefix(ev.Text, "/") || ev.Chat == nil {
				return nil, nil
			}
			reply, ok := d.AutoReply.Match(ev.Text)
			if !ok {
				return nil, nil
			}
			if !Enabled(ctx, d.Settings, ev.Chat.ID, SettingAutoReply) {
				return nil, nil
			}
			if err := d.reply(ctx, ev, esc(reply)); err != nil {
				return nil, err
			}
			return outcome("autoreply_sent"), nil
		},
	}
}
