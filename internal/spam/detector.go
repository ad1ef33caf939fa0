// Package spam flags message text as spam by content pattern or by
// per-subject message burst.
package spam

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/master-pd/bot-master/internal/ratelimit"
)

const (
	DefaultBurstLimit  = 5
	DefaultBurstWindow = 10 * time.Second

	burstAction = "message"
)

// Limiter is the slice of ratelimit.Limiter the detector needs.
type Limiter interface {
	Check(ctx context.Context, subject, action string, limit int, window time.Duration) ratelimit.Result
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Patterns are tried in this order; the first match wins.
var defaultPatterns = []pattern{
	{"url", regexp.MustCompile(`(?i)https?://([a-z0-9]+\.)?[a-z0-9]+\.[a-z]{2,}`)},
	{"long_number", regexp.MustCompile(`[0-9]{10,}`)},
	{"promo", regexp.MustCompile(`(?i)(buy|sell|cheap|discount|offer|click here|limited time)[\s\S]{0,30}(now|today|limited|urgent)`)},
	{"mass_mention", regexp.MustCompile(`@everyone|@here`)},
	{"blacklist", regexp.MustCompile(`(?i)\b(viagra|cialis|porn|casino|lottery)\b`)},
}

// Config tunes the detector.
type Config struct {
	BurstLimit  int
	BurstWindow time.Duration
	// ExtraTerms are matched case-insensitively as whole words after the
	// built-in patterns.
	ExtraTerms []string
}

// Detector is safe for concurrent use.
type Detector struct {
	limiter  Limiter
	patterns []pattern
	limit    int
	window   time.Duration
}

// New creates a detector. A nil limiter disables the burst check.
func New(limiter Limiter, cfg Config) (*Detector, error) {
	d := &Detector{
		limiter:  limiter,
		patterns: append([]pattern(nil), defaultPatterns...),
		limit:    cfg.BurstLimit,
		window:   cfg.BurstWindow,
	}
	if d.limit <= 0 {
		d.limit = DefaultBurstLimit
	}
	if d.window <= 0 {
		d.window = DefaultBurstWindow
	}

	var terms []string
	for _, t := range cfg.ExtraTerms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, regexp.QuoteMeta(t))
		}
	}
	if len(terms) > 0 {
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(terms, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("spam: compile extra terms: %w", err)
		}
		d.patterns = append(d.patterns, pattern{name: "extra_terms", re: re})
	}
	return d, nil
}

// Match reports the name of the first content pattern text matches.
// It has no side effects.
func (d *Detector) Match(text string) (string, bool) {
	for _, p := range d.patterns {
		if p.re.MatchString(text) {
			return p.name, true
		}
	}
	return "", false
}

// IsSpam reports whether text from subject is spam. A content match returns
// immediately without touching the limiter; otherwise one hit is recorded
// in the subject's burst window and a denial means spam.
func (d *Detector) IsSpam(ctx context.Context, text, subject string) bool {
	if _, ok := d.Match(text); ok {
		return true
	}
	if d.limiter == nil {
		return false
	}
	res := d.limiter.Check(ctx, "spam:"+subject, burstAction, d.limit, d.window)
	return !res.Allowed
}
