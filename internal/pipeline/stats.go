package pipeline

import "sync/atomic"

// Stats counts pipeline activity for the status endpoint.
type Stats struct {
	Accepted    atomic.Int64
	Rejected    atomic.Int64 // queue full
	Processed   atomic.Int64 // at least one feature produced a result
	Ignored     atomic.Int64 // dispatched, nothing applied
	RateLimited atomic.Int64
	Spam        atomic.Int64
	Failures    atomic.Int64
	InFlight    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Accepted    int64 `json:"accepted"`
	Rejected    int64 `json:"rejected"`
	Processed   int64 `json:"processed"`
	Ignored     int64 `json:"ignored"`
	RateLimited int64 `json:"rate_limited"`
	Spam        int64 `json:"spam"`
	Failures    int64 `json:"failures"`
	InFlight    int64 `json:"in_flight"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:    s.Accepted.Load(),
		Rejected:    s.Rejected.Load(),
		Processed:   s.Processed.Load(),
		Ignored:     s.Ignored.Load(),
		RateLimited: s.RateLimited.Load(),
		Spam:        s.Spam.Load(),
		Failures:    s.Failures.Load(),
		InFlight:    s.InFlight.Load(),
	}
}
