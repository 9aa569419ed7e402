package pools

import "time"

// DefaultStaleAfter is the share age after which reported hashrate is
// ignored.
const DefaultStaleAfter = 2 * time.Hour

// StaleFilter zeroes hashrate and online state for snapshots whose last
// share is too old. Several pools keep reporting the last known hashrate
// long after a miner disconnects.
type StaleFilter struct {
	After time.Duration
	Now   func() time.Time
}

// NewStaleFilter returns a filter using the wall clock.
func NewStaleFilter(after time.Duration) *StaleFilter {
	if after <= 0 {
		after = DefaultStaleAfter
	}
	return &StaleFilter{After: after, Now: time.Now}
}

// IsStale reports whether the snapshot's last share is older than the
// threshold. Snapshots without a last share are never stale.
func (f *StaleFilter) IsStale(stats PoolStats) bool {
	if stats.LastShare <= 0 {
		return false
	}
	return f.Now().Sub(stats.LastShareTime()) > f.After
}

// Apply returns stats unchanged, or a copy with all hashrate zeroed and
// every worker offline when the data is stale.
func (f *StaleFilter) Apply(stats PoolStats) PoolStats {
	if !f.IsStale(stats) {
		return stats
	}

	out := stats.Clone()
	out.Hashrate = 0
	out.Hashrate24h = 0
	for i := range out.Workers {
		out.Workers[i].Hashrate = 0
		out.Workers[i].Offline = true
	}
	out.WorkersOnline = 0
	return out
}
