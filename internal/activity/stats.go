package activity

import "sync/atomic"

// Stats are running totals since startup.
type Stats struct {
	joins       atomic.Int64
	leaves      atomic.Int64
	renames     atomic.Int64
	relayed     atomic.Int64
	delivered   atomic.Int64
	undelivered atomic.Int64
	rateLimited atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Joins           int64 `json:"joins"`
	Leaves          int64 `json:"leaves"`
	Renames         int64 `json:"renames"`
	MessagesRelayed int64 `json:"messages_relayed"`
	Deliveries      int64 `json:"deliveries"`
	Undelivered     int64 `json:"undelivered"`
	RateLimited     int64 `json:"rate_limited"`
}

// Snapshot returns the current totals.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Joins:           s.joins.Load(),
		Leaves:          s.leaves.Load(),
		Renames:         s.renames.Load(),
		MessagesRelayed: s.relayed.Load(),
		Deliveries:      s.delivered.Load(),
		Undelivered:     s.undelivered.Load(),
		RateLimited:     s.rateLimited.Load(),
	}
}
