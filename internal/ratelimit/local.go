package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

const (
	// maxTrackedKeys caps the number of tracked windows so rotating
	// subjects (source IPs, throwaway accounts) cannot exhaust memory.
	maxTrackedKeys = 65536

	// idleFactor: a key is dropped once it has seen no hit for this many
	// of its windows.
	idleFactor = 5

	// DefaultJanitorSchedule runs the sweep every minute.
	DefaultJanitorSchedule = "* * * * *"
)

type localWindow struct {
	hits     []time.Time // ascending
	window   time.Duration
	lastSeen time.Time
}

// LocalStore is the in-process sliding-window store. Safe for concurrent use.
type LocalStore struct {
	mu      sync.Mutex
	windows map[string]*localWindow
}

// NewLocalStore creates an empty store.
func NewLocalStore() *LocalStore {
	return &LocalStore{windows: make(map[string]*localWindow)}
}

// Hit implements Store. It never returns an error.
func (s *LocalStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windowLocked(key, window, now)
	if len(w.hits) >= limit {
		retry := w.hits[0].Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retry, Backend: BackendLocal}, nil
	}

	w.hits = append(w.hits, now)
	return Result{Allowed: true, Remaining: limit - len(w.hits), Backend: BackendLocal}, nil
}

// Record adds a hit admitted by another store without checking the limit,
// so the local window reflects it if that store later becomes unavailable.
func (s *LocalStore) Record(key string, window time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windowLocked(key, window, now)
	// Hits normally arrive in order; keep the slice sorted if one doesn't.
	i := len(w.hits)
	for i > 0 && w.hits[i-1].After(now) {
		i--
	}
	w.hits = append(w.hits, time.Time{})
	copy(w.hits[i+1:], w.hits[i:])
	w.hits[i] = now
}

// windowLocked returns the window for key with hits older than now-window
// purged, creating it if needed.
func (s *LocalStore) windowLocked(key string, window time.Duration, now time.Time) *localWindow {
	w, ok := s.windows[key]
	if !ok {
		if len(s.windows) >= maxTrackedKeys {
			s.evictLocked(now)
		}
		w = &localWindow{}
		s.windows[key] = w
	}
	w.window = window
	if now.After(w.lastSeen) {
		w.lastSeen = now
	}

	cutoff := now.Add(-window)
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
	return w
}

// evictLocked drops idle windows; if the store is still full it drops the
// least recently used keys until there is room for one more. An evicted
// key that is still active starts over with an empty window.
func (s *LocalStore) evictLocked(now time.Time) {
	s.sweepLocked(now)
	for len(s.windows) >= maxTrackedKeys {
		var (
			oldestKey string
			oldest    time.Time
			found     bool
		)
		for k, w := range s.windows {
			if !found || w.lastSeen.Before(oldest) {
				oldestKey, oldest, found = k, w.lastSeen, true
			}
		}
		delete(s.windows, oldestKey)
	}
}

// Sweep deletes keys idle for at least idleFactor windows and returns how
// many were removed.
func (s *LocalStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *LocalStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, w := range s.windows {
		if now.Sub(w.lastSeen) >= time.Duration(idleFactor)*w.window {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Run sweeps idle keys on a cron schedule until ctx is cancelled.
// An empty schedule uses DefaultJanitorSchedule.
func (s *LocalStore) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("ratelimit: invalid janitor schedule %q", schedule)
	}

	for {
		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		if err != nil {
			return fmt.Errorf("ratelimit: janitor schedule: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case now := <-timer.C:
			if n := s.Sweep(now); n > 0 {
				slog.Debug("ratelimit: janitor swept idle keys", "removed", n, "remaining", s.Len())
			}
		}
	}
}
